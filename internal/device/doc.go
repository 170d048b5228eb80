// Package device defines the transport contract protocol sessions are written against
// and the error taxonomy shared by every BLE backend.
//
// The package covers:
//   - The Transport interface (connect, disconnect, subscribe, write)
//   - Scanner and Advertisement abstractions for discovery
//   - ConnectionError sentinels and NormalizeError for backend error strings
//   - UUID normalization so configuration may use short, dashed or 0x forms
package device
