// Package fingerprint turns the content identifiers callers send into the
// canonical key every piece of resolver state is stored under.
package fingerprint

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// ErrInvalid is returned for input that is not a recognizable info-hash.
var ErrInvalid = errors.New("invalid fingerprint")

// Fingerprint is a BitTorrent v1 info-hash in lowercase hex.
type Fingerprint string

const (
	hexLen    = 40
	base32Len = 32
)

// DefaultTrackers are announced in magnets built without explicit trackers.
var DefaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://open.stealth.si:80/announce",
	"udp://exodus.desync.com:6969/announce",
}

// Normalize trims and lowercases raw and checks that it is a 40 character
// hex info-hash. A 32 character base32 hash or a magnet URI is converted to
// the same hex form.
func Normalize(raw string) (Fingerprint, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	if strings.HasPrefix(strings.ToLower(s), "magnet:") {
		m, err := metainfo.ParseMagnetUri(s)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalid, err)
		}

		return Fingerprint(m.InfoHash.HexString()), nil
	}

	switch len(s) {
	case hexLen:
		s = strings.ToLower(s)
		if _, err := hex.DecodeString(s); err != nil {
			return "", fmt.Errorf("%w: %q is not hex", ErrInvalid, raw)
		}

		return Fingerprint(s), nil
	case base32Len:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil {
			return "", fmt.Errorf("%w: %q is not base32", ErrInvalid, raw)
		}

		return Fingerprint(hex.EncodeToString(b)), nil
	default:
		return "", fmt.Errorf("%w: unexpected length %d", ErrInvalid, len(s))
	}
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return string(f)
}

// Hash returns the fingerprint as a metainfo hash.
func (f Fingerprint) Hash() (metainfo.Hash, error) {
	var h metainfo.Hash
	if err := h.FromHexString(string(f)); err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return h, nil
}

// Magnet builds a magnet URI for f. DefaultTrackers are used when trackers
// is empty.
func Magnet(f Fingerprint, name string, trackers []string) (string, error) {
	h, err := f.Hash()
	if err != nil {
		return "", err
	}

	var tr []string

	for _, t := range trackers {
		if t = strings.TrimSpace(t); t != "" {
			tr = append(tr, t)
		}
	}

	if len(tr) == 0 {
		tr = DefaultTrackers
	}

	m := metainfo.Magnet{
		InfoHash:    h,
		DisplayName: name,
		Trackers:    tr,
	}

	return m.String(), nil
}

// FromMetaInfo decodes a .torrent file and returns its info-hash and name.
func FromMetaInfo(blob []byte) (Fingerprint, string, error) {
	if len(blob) == 0 {
		return "", "", fmt.Errorf("%w: empty metainfo", ErrInvalid)
	}

	mi, err := metainfo.Load(bytes.NewReader(blob))
	if err != nil {
		return "", "", fmt.Errorf("%w: decoding metainfo: %w", ErrInvalid, err)
	}

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", "", fmt.Errorf("%w: decoding info dictionary: %w", ErrInvalid, err)
	}

	return Fingerprint(mi.HashInfoBytes().HexString()), info.Name, nil
}
