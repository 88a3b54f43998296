package fingerprint

import (
	"bytes"
	"strings"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const matrixHash = "c9e15763f722f23e98a29decdfae341b98d53056"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Fingerprint
		wantErr bool
	}{
		{name: "lowercase hex", raw: matrixHash, want: matrixHash},
		{name: "uppercase hex trimmed", raw: "  " + strings.ToUpper(matrixHash) + "\n", want: matrixHash},
		{name: "base32", raw: "ZHQVOY7XELZD5GFCTXWN7LRUDOMNKMCW", want: matrixHash},
		{name: "magnet", raw: "magnet:?xt=urn:btih:" + strings.ToUpper(matrixHash) + "&dn=x", want: matrixHash},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "non hex alphabet", raw: strings.Repeat("z", 40), wantErr: true},
		{name: "wrong length", raw: "abc123", wantErr: true},
		{name: "bad base32", raw: strings.Repeat("1", 32), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalid)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMagnet(t *testing.T) {
	t.Run("default trackers", func(t *testing.T) {
		uri, err := Magnet(matrixHash, "The Matrix", nil)
		require.NoError(t, err)

		m, err := metainfo.ParseMagnetUri(uri)
		require.NoError(t, err)

		assert.Equal(t, matrixHash, m.InfoHash.HexString())
		assert.Equal(t, "The Matrix", m.DisplayName)
		assert.ElementsMatch(t, DefaultTrackers, m.Trackers)
	})

	t.Run("explicit trackers", func(t *testing.T) {
		uri, err := Magnet(matrixHash, "", []string{" udp://a:1/announce ", ""})
		require.NoError(t, err)

		m, err := metainfo.ParseMagnetUri(uri)
		require.NoError(t, err)

		assert.Equal(t, []string{"udp://a:1/announce"}, m.Trackers)
	})

	t.Run("invalid fingerprint", func(t *testing.T) {
		_, err := Magnet("nothex", "", nil)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestFromMetaInfo(t *testing.T) {
	info := metainfo.Info{
		Name:        "The.Matrix.1999.1080p.mkv",
		PieceLength: 16384,
		Length:      1024,
		Pieces:      make([]byte, 20),
	}

	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	mi := metainfo.MetaInfo{InfoBytes: infoBytes}

	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))

	fp, name, err := FromMetaInfo(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(mi.HashInfoBytes().HexString()), fp)
	assert.Equal(t, "The.Matrix.1999.1080p.mkv", name)

	_, _, err = FromMetaInfo([]byte("not a torrent"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = FromMetaInfo(nil)
	assert.ErrorIs(t, err, ErrInvalid)
}
