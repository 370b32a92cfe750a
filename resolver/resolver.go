package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/nijaru/scriptparser/config"
	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/models"
	"github.com/sirupsen/logrus"
)

// Extractor turns a share URL for one platform into a video descriptor. The
// resolver fills in Platform.
type Extractor interface {
	Extract(ctx context.Context, shareURL string) (*models.VideoDescriptor, error)
}

type platformEntry struct {
	hostSuffix string
	platform   models.Platform
	extractor  Extractor
}

// Resolver finds the first link in free text and dispatches it to the
// extractor registered for its host.
type Resolver struct {
	platforms []platformEntry
	logger    *logrus.Logger
}

type Option func(*Resolver)

// WithPlatform registers an extractor for hosts equal to or under hostSuffix.
// Entries added this way are consulted before the built-in table.
func WithPlatform(hostSuffix string, platform models.Platform, extractor Extractor) Option {
	return func(r *Resolver) {
		r.platforms = append([]platformEntry{{
			hostSuffix: strings.ToLower(hostSuffix),
			platform:   platform,
			extractor:  extractor,
		}}, r.platforms...)
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New builds a resolver with the built-in platform table.
func New(client *http.Client, cfg config.ResolverConfig, opts ...Option) *Resolver {
	douyin := NewDouyin(client, cfg.UserAgent, cfg.PageBaseURL)
	xhs := &Xiaohongshu{}

	r := &Resolver{
		platforms: []platformEntry{
			{hostSuffix: "douyin.com", platform: models.PlatformDouyin, extractor: douyin},
			{hostSuffix: "iesdouyin.com", platform: models.PlatformDouyin, extractor: douyin},
			{hostSuffix: "xiaohongshu.com", platform: models.PlatformXiaohongshu, extractor: xhs},
			{hostSuffix: "xhslink.com", platform: models.PlatformXiaohongshu, extractor: xhs},
		},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve extracts the first URL from shareText and resolves it.
func (r *Resolver) Resolve(ctx context.Context, shareText string) (*models.VideoDescriptor, error) {
	const op = "Resolver.Resolve"

	link := FirstURL(shareText)
	if link == "" {
		return nil, apperrors.LinkResolution(op, nil, "No URL found in the provided text")
	}

	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return nil, apperrors.LinkResolution(op, err, "Invalid URL in the provided text")
	}

	entry, ok := r.lookup(parsed.Hostname())
	if !ok {
		return nil, apperrors.UnsupportedPlatform(op, nil, fmt.Sprintf("unsupported host %s", parsed.Hostname()))
	}

	logger := r.logger.WithFields(logrus.Fields{
		"platform": entry.platform,
		"url":      link,
	})
	logger.Debug("Resolving share link")

	desc, err := entry.extractor.Extract(ctx, link)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.LinkResolution(op, err, "extraction failed")
		}
		return nil, err
	}
	desc.Platform = entry.platform

	logger.WithField("video_id", desc.VideoID).Info("Resolved share link")
	return desc, nil
}

func (r *Resolver) lookup(host string) (platformEntry, bool) {
	host = strings.ToLower(host)
	for _, p := range r.platforms {
		if host == p.hostSuffix || strings.HasSuffix(host, "."+p.hostSuffix) {
			return p, true
		}
	}
	return platformEntry{}, false
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Share texts often glue punctuation onto the link.
const trailingPunct = `.,;:!?)]}>"'，。！？；：）】」』`

// FirstURL returns the first http(s) link embedded in text, or "".
func FirstURL(text string) string {
	match := urlPattern.FindString(text)
	return strings.TrimRight(match, trailingPunct)
}
