package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
	"github.com/italolelis/seedbox_resolver/internal/store"
)

func TestMatchName(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		requested string
		want      bool
	}{
		{name: "punctuation and extension differ", candidate: "The.Matrix.1999.1080p.mkv", requested: "The Matrix 1999 1080p", want: true},
		{name: "unrelated title", candidate: "Inception.2010.mkv", requested: "The Matrix 1999 1080p", want: false},
		{name: "long release name shares prefix", candidate: "The.Matrix.1999.1080p.BluRay.x264-GROUP.mkv", requested: "The Matrix 1999 1080p WEB", want: true},
		{name: "requested contains short candidate", candidate: "Matrix.mp4", requested: "The Matrix 1999", want: true},
		{name: "case insensitive", candidate: "THE MATRIX 1999", requested: "the matrix 1999", want: true},
		{name: "year kept when dotted", candidate: "The.Matrix.1999", requested: "The Matrix 1999", want: true},
		{name: "empty candidate", candidate: "", requested: "The Matrix", want: false},
		{name: "empty requested", candidate: "The.Matrix.mkv", requested: "", want: false},
		{name: "only punctuation", candidate: "...", requested: "The Matrix", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchName(tt.candidate, tt.requested, 20))
		})
	}
}

func TestSimplify(t *testing.T) {
	assert.Equal(t, "the matrix 1999 1080p", simplify("The.Matrix.1999.1080p.mkv"))
	assert.Equal(t, "the matrix 1999", simplify("  The  Matrix (1999) "))
	assert.Equal(t, "movie bluray", simplify("Movie.BluRay"))
}

func TestMatchFile_UsesRootFolderName(t *testing.T) {
	f := &store.File{ID: "9", Name: "video.mkv", Path: "The Matrix (1999)/video.mkv"}

	assert.True(t, matchFile(f, "The Matrix 1999", 20))
	assert.False(t, matchFile(f, "Inception 2010", 20))
}

func TestFindTransfer_PrefersHash(t *testing.T) {
	fp := fingerprint.Fingerprint("c9e15763f722f23e98a29decdfae341b98d53056")
	transfers := []*store.Transfer{
		{ID: "1", Name: "The Matrix 1999"},
		{ID: "2", Name: "something else", Hash: "C9E15763F722F23E98A29DECDFAE341B98D53056"},
	}

	got := findTransfer(transfers, fp, "The Matrix 1999", 20)
	assert.Equal(t, "2", got.ID)

	got = findTransfer(transfers[:1], fp, "The Matrix 1999", 20)
	assert.Equal(t, "1", got.ID)

	assert.Nil(t, findTransfer(transfers[:1], fp, "", 20))
}
