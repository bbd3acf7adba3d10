// Package mdns implements an RFC 6762 Multicast DNS responder for
// embedded and desktop network stacks: hostname and DNS-SD service
// registration over IPv6, probing and conflict resolution, announcing,
// query response with known-answer suppression, and graceful goodbye on
// teardown.
//
// A Core is the entry point:
//
//	core, err := mdns.New(mdns.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Close()
//
//	reqID, err := core.RegisterService(mdns.ServiceInfo{
//	    Instance: "My Printer",
//	    Type:     "_http._tcp.local",
//	    Host:     "myhost.local",
//	    Port:     8080,
//	}, func(requestID string, err error) {
//	    if err != nil {
//	        log.Printf("registration %s failed: %v", requestID, err)
//	    }
//	})
//
// All mutable state is owned by a single internal goroutine (the
// scheduler); every exported method is safe to call from any goroutine.
package mdns
