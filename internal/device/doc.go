// Package device keeps the catalogue of devices seen on the broker.
//
// A Device carries an ID, a display name, a device type, its state
// (online or offline) and the ID of the connector module that owns it.
// Fields renders those attributes as ordered (key, value) pairs for
// consumers that iterate over a device generically.
//
// The Registry caches devices in memory in front of a Repository; the
// SQLite implementation stores them in the devices table created by the
// embedded migrations. The ingest processor calls Registry.MarkSeen for
// every event message so that new devices are discovered automatically.
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
package device
