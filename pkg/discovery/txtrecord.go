package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bzzt-protocol/bzzt-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeControllerTXT creates the TXT records for a controller.
func EncodeControllerTXT(info *ControllerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyRole:    RoleController,
		TXTKeyVersion: ProtocolVersion,
	}

	if info.Name != "" {
		txt[TXTKeyName] = info.Name
	}
	if info.Path != "" && info.Path != "/" {
		txt[TXTKeyPath] = info.Path
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}

	return txt
}

// DecodeControllerTXT parses controller TXT records into a service skeleton.
// Records from services with another role or an incompatible protocol
// major version are rejected.
func DecodeControllerTXT(txt TXTRecordMap) (*ControllerService, error) {
	role, ok := txt[TXTKeyRole]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyRole)
	}
	if role != RoleController {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidTXTRecord, role)
	}

	if err := version.CheckCompatible(txt[TXTKeyVersion]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatible, err)
	}

	svc := &ControllerService{
		Name:    txt[TXTKeyName],
		Path:    txt[TXTKeyPath],
		Version: txt[TXTKeyVersion],
	}
	switch txt[TXTKeyTLS] {
	case "", "0":
	case "1":
		svc.TLS = true
	default:
		return nil, fmt.Errorf("%w: tls %q", ErrInvalidTXTRecord, txt[TXTKeyTLS])
	}

	return svc, nil
}

// TXTRecordsToStrings converts a TXT record map to "key=value" strings,
// sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	keys := make([]string, 0, len(txt))
	for k := range txt {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+txt[k])
	}
	return out
}

// StringsToTXTRecords parses "key=value" strings. Entries without "=" are
// boolean attributes and map to an empty value. Keys are case-insensitive
// per RFC 6763 and are lowercased.
func StringsToTXTRecords(records []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k == "" {
			continue
		}
		k = strings.ToLower(k)
		// The first occurrence of a key wins (RFC 6763 section 6.4).
		if _, dup := txt[k]; dup {
			continue
		}
		txt[k] = v
	}
	return txt
}

// txtSize returns the encoded size of the records in bytes.
func txtSize(records []string) int {
	n := 0
	for _, r := range records {
		n += 1 + len(r)
	}
	return n
}
