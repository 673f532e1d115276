// Package oxia implements metadata.MetadataStore on top of Oxia.
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "default",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// Ephemeral keys are bound to the client session; when the process dies or
// stays silent for longer than SessionTimeout the server deletes them, which
// is what makes instance registrations disappear.
//
// Oxia delivers key-changed notifications without values, and a fresh
// subscription only sees changes made after it was opened. metadata.Watcher
// covers both by re-reading the watched keys after every (re)subscribe.
package oxia
