// Package discovery implements mDNS/DNS-SD discovery of BZZT controllers.
//
// Controllers advertise a single service type:
//
// # Controller Discovery (_bzzt._tcp)
//
// Instance name is the user-friendly controller name. The SRV port is the
// websocket port. TXT records include: role (always "controller") and
// optionally path (websocket path), name, ver (protocol version) and tls
// ("1" when the controller only accepts wss://).
//
// Phones browse for the service when no controller address is configured
// and connect to the first compatible controller found. Controllers whose
// ver record has another major version are skipped. Addresses announced on several
// interfaces are merged into one entry per instance.
package discovery
