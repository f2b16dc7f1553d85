/*
Package deltasync tracks library changes for incremental client sync.

# Overview

A media client keeps a local copy of a large catalog. Instead of
re-reading the catalog on every launch it asks for the delta since its last
sync. deltasync records what changed and answers those questions:

  - capture: host notifications are debounced, coalesced and written to a
    durable change log
  - checkpoints: each (device, user) pair owns one checkpoint whose window
    starts where the previous sync ended
  - delta queries: updated items, removed items and user data changes
    inside a closed window, paginated with a total count

# Basic Usage

Open an engine from settings, run its background services and publish host
notifications:

	settings := config.Defaults()
	settings.DBPath = "/var/lib/media/deltasync.db"

	engine, err := deltasync.Open(ctx, settings, deltasync.WithHost(host))
	if err != nil {
	    log.Fatal(err)
	}
	defer engine.Close(ctx)

	go engine.Serve(ctx)

	_ = engine.NotifyItem(ctx, catalog.ItemEvent{Op: catalog.ItemUpdated, Item: item})

A client sync then runs in three steps:

	cp, _ := engine.CreateCheckpoint(ctx, deviceID, userID)
	// ... later, when the client syncs ...
	stats, _ := engine.StartSync(ctx, cp.ID)
	page, _ := engine.UpdatedItems(ctx, delta.ItemQuery{CheckpointID: cp.ID, Limit: 100})

The next CreateCheckpoint for the same pair starts its window at the end of
the one just synced.

# Background Services

Serve runs a supervisor tree with the capture consumer and the retention
task. Close performs a final flush of both capture streams and closes the
database.

# Errors

Client operations return errors that match errors.ErrNotFound,
errors.ErrValidation or errors.ErrStorage from the errors subpackage.
*/
package deltasync
