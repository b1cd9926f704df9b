package versioning

import (
	"errors"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

var (
	// ErrPatchCorrupt indicates a stored patch payload could not be parsed.
	ErrPatchCorrupt = errors.New("versioning: corrupt patch payload")
	// ErrPatchApply indicates a patch did not apply cleanly against its base text.
	ErrPatchApply = errors.New("versioning: patch failed to apply")
)

// Codec converts between document texts and serialized patch payloads.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewCodec constructs a codec with default match tolerances.
func NewCodec() Codec {
	return Codec{dmp: diffmatchpatch.New()}
}

// Diff encodes the edits transforming old into new as patch text. The
// encoding is deterministic for identical inputs but not guaranteed minimal.
func (c Codec) Diff(old, new string) string {
	return c.dmp.PatchToText(c.dmp.PatchMake(old, new))
}

// Apply replays patch text against a base document and returns the result.
// Every hunk must apply; a partial application is reported as ErrPatchApply
// because an unnoticed wrong base would corrupt every later version built
// on top of it.
func (c Codec) Apply(old, patch string) (string, error) {
	patches, err := c.dmp.PatchFromText(patch)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPatchCorrupt, err)
	}
	result, applied := c.dmp.PatchApply(patches, old)
	for hunk, ok := range applied {
		if !ok {
			return "", fmt.Errorf("%w: hunk %d rejected", ErrPatchApply, hunk)
		}
	}
	return result, nil
}
