package resolver

import (
	"context"
	"fmt"
	"regexp"

	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/models"
)

var xhsItemPattern = regexp.MustCompile(`/(?:item|explore|discovery/item)/([a-f0-9]+)`)

// Xiaohongshu recognises xiaohongshu links so they can be reported as a known
// but unsupported platform instead of an unknown host.
type Xiaohongshu struct{}

var _ Extractor = (*Xiaohongshu)(nil)

func (x *Xiaohongshu) Extract(ctx context.Context, shareURL string) (*models.VideoDescriptor, error) {
	const op = "Xiaohongshu.Extract"

	msg := "xiaohongshu extraction is not implemented"
	if m := xhsItemPattern.FindStringSubmatch(shareURL); m != nil {
		msg = fmt.Sprintf("%s (item %s)", msg, m[1])
	}
	return nil, apperrors.UnsupportedPlatform(op, nil, msg)
}
