// Package wire implements the DNS wire codec: header, question, and
// resource-record encoding with compression-pointer tracking, and NSEC
// type-bitmap construction, per spec §4.1 and RFC 1035 §3-§4 / RFC 6762
// §18.14.
package wire

import (
	"strings"

	"github.com/nodegrove/mdns/internal/errors"
)

// ParseName decodes a (possibly compressed) domain name starting at offset
// within data, per RFC 1035 §4.1.4. It returns the dotted name (without a
// trailing dot), the offset immediately following the name (the offset
// after the terminating zero label, or after the 2-byte pointer that ended
// the name — NOT after whatever the pointer target occupies), and an error
// for truncated input, oversized labels/names, or an invalid/looping
// compression pointer.
func ParseName(data []byte, offset int) (string, int, error) {
	var labels []string
	startOffset := offset
	pos := offset
	jumped := false
	totalLen := 0
	visited := map[int]bool{}

	for {
		if pos < 0 || pos >= len(data) {
			return "", 0, &errors.WireFormatError{Operation: "ParseName", Details: "offset out of bounds"}
		}

		b := data[pos]

		switch {
		case b == 0x00:
			pos++
			if !jumped {
				startOffset = pos
			}
			goto done

		case b&0xC0 == 0xC0:
			if pos+1 >= len(data) {
				return "", 0, &errors.WireFormatError{Operation: "ParseName", Details: "truncated compression pointer"}
			}
			target := int(b&0x3F)<<8 | int(data[pos+1])
			if visited[target] || target >= pos {
				return "", 0, &errors.WireFormatError{Operation: "ParseName", Details: "invalid compression pointer"}
			}
			visited[target] = true

			if !jumped {
				startOffset = pos + 2
			}
			jumped = true
			pos = target
			continue

		case b&0xC0 != 0:
			return "", 0, &errors.WireFormatError{Operation: "ParseName", Details: "reserved label type"}

		default:
			length := int(b)
			if pos+1+length > len(data) {
				return "", 0, &errors.WireFormatError{Operation: "ParseName", Details: "truncated label"}
			}

			label := string(data[pos+1 : pos+1+length])
			labels = append(labels, label)

			totalLen += length + 1
			if totalLen > 255 {
				return "", 0, &errors.WireFormatError{Operation: "ParseName", Details: "name exceeds maximum 255 bytes per RFC 1035 §3.1"}
			}

			pos += 1 + length
		}
	}

done:
	return strings.Join(labels, "."), startOffset, nil
}

// EncodeName encodes name into uncompressed RFC 1035 §3.1 wire format:
// length-prefixed labels terminated by a zero byte. A trailing dot (or the
// whole name being "." or "") denotes the root name. Validates label and
// name length limits and character rules.
func EncodeName(name string) ([]byte, error) {
	labels, err := splitValidate(name)
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, label := range labels {
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0x00)

	if len(out) > 255 {
		return nil, &errors.ValidationError{Field: "name", Value: name, Details: "exceeds maximum 255 bytes per RFC 1035 §3.1"}
	}

	return out, nil
}

// EncodeServiceInstanceName encodes a DNS-SD service instance name: the
// instance label (arbitrary UTF-8 text, not subject to the hostname
// character rules, per RFC 6763 §4.3) followed by the service type's
// ordinary labels.
func EncodeServiceInstanceName(instanceName, serviceType string) ([]byte, error) {
	if instanceName == "" {
		return nil, &errors.ValidationError{Field: "instanceName", Value: instanceName, Details: "must not be empty"}
	}
	if len(instanceName) > 63 {
		return nil, &errors.ValidationError{Field: "instanceName", Value: instanceName, Details: "exceeds maximum length 63 bytes per RFC 1035 §3.1"}
	}

	typeLabels, err := splitValidate(serviceType)
	if err != nil {
		return nil, err
	}

	out := append([]byte{byte(len(instanceName))}, instanceName...)
	for _, label := range typeLabels {
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0x00)

	if len(out) > 255 {
		return nil, &errors.ValidationError{Field: "name", Value: instanceName + "." + serviceType, Details: "exceeds maximum 255 bytes per RFC 1035 §3.1"}
	}

	return out, nil
}

// splitValidate splits a dotted name into labels, validating RFC 1035 §3.1
// rules: labels 1..63 bytes, no empty labels, hyphens not first/last, and
// only letters/digits/hyphen/underscore (service-type labels like "_http"
// start with an underscore, which is conventionally tolerated by mDNS
// implementations even though strict RFC 952 hostnames forbid it).
func splitValidate(name string) ([]string, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil, nil
	}

	labels := strings.Split(name, ".")
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return nil, err
		}
	}
	return labels, nil
}

func validateLabel(label string) error {
	if label == "" {
		return &errors.ValidationError{Field: "label", Value: label, Details: "empty label"}
	}
	if len(label) > 63 {
		return &errors.ValidationError{Field: "label", Value: label, Details: "exceeds maximum length 63 bytes per RFC 1035 §3.1"}
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return &errors.ValidationError{Field: "label", Value: label, Details: "hyphen cannot be first or last character"}
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return &errors.ValidationError{Field: "label", Value: label, Details: "invalid character"}
		}
	}
	return nil
}

// CanonicalizeLabels lowercases and splits name for case-insensitive
// comparison against locally registered entries, per spec §4.6 ("canonicalize
// the name into labels (lowercasing)").
func CanonicalizeLabels(name string) []string {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}
