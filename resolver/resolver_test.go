package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/nijaru/scriptparser/config"
	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/models"
)

// rewriteTransport sends every request to the fixture server regardless of
// the host in the URL.
type rewriteTransport struct {
	target *url.URL
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = req.URL.Host
	resp, err := http.DefaultTransport.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

func fixtureClient(t *testing.T, handler http.Handler) *http.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Transport: &rewriteTransport{target: target}}
}

func routerPage(loaderKey, awemeID, desc, playURL string) string {
	return fmt.Sprintf(`<html><body><script>window._ROUTER_DATA = {"loaderData":{%q:{"videoInfoRes":{"item_list":[{"aweme_id":%q,"desc":%q,"video":{"play_addr":{"url_list":[%q]}}}]}}}};</script></body></html>`,
		loaderKey, awemeID, desc, playURL)
}

func TestResolvePlatformAScenario(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/share/xyz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>share landing</html>"))
	})
	mux.HandleFunc("/share/video/xyz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(routerPage("video_(id)/page", "xyz", "Demo", "https://cdn.platform-a.example/playwm/xyz.mp4")))
	})
	client := fixtureClient(t, mux)

	r := New(client, config.ResolverConfig{}, WithPlatform(
		"platform-a.example",
		models.Platform("platform-a"),
		NewDouyin(client, "test-agent", "https://platform-a.example"),
	))

	desc, err := r.Resolve(context.Background(), "Check this out https://platform-a.example/share/xyz")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := models.VideoDescriptor{
		VideoID:  "xyz",
		Platform: "platform-a",
		Title:    "Demo",
		MediaURL: "https://cdn.platform-a.example/play/xyz.mp4",
	}
	if *desc != want {
		t.Errorf("expected %+v, got %+v", want, *desc)
	}
	if strings.Contains(desc.MediaURL, "playwm") {
		t.Errorf("media url still watermarked: %s", desc.MediaURL)
	}
}

func TestResolveDouyinRedirectAndNoteFallback(t *testing.T) {
	const id = "7301234567890123456"
	var gotAgent string

	mux := http.NewServeMux()
	mux.HandleFunc("/AbCdEf/", func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		http.Redirect(w, r, "https://www.iesdouyin.com/share/video/"+id+"/?region=CN", http.StatusFound)
	})
	mux.HandleFunc("/share/video/"+id+"/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("landing"))
	})
	mux.HandleFunc("/share/video/"+id, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(routerPage("note_(id)/page", "", "  a/b:c  ", "https://v.example/playwm/?video_id=1")))
	})
	client := fixtureClient(t, mux)

	r := New(client, config.ResolverConfig{UserAgent: "iphone-agent", PageBaseURL: "https://www.iesdouyin.com"})

	desc, err := r.Resolve(context.Background(), "7.15 复制打开抖音 https://v.douyin.com/AbCdEf/ 看看")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotAgent != "iphone-agent" {
		t.Errorf("expected user agent to be sent, got %q", gotAgent)
	}
	if desc.VideoID != id {
		t.Errorf("expected id %s, got %s", id, desc.VideoID)
	}
	if desc.Platform != models.PlatformDouyin {
		t.Errorf("expected douyin, got %s", desc.Platform)
	}
	if desc.Title != "a_b_c" {
		t.Errorf("expected sanitised title a_b_c, got %q", desc.Title)
	}
	if desc.MediaURL != "https://v.example/play/?video_id=1" {
		t.Errorf("unexpected media url %s", desc.MediaURL)
	}
}

func TestResolveFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/share/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/share/video/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>no payload here</html>"))
	})
	mux.HandleFunc("/share/badjson", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/share/video/badjson", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>window._ROUTER_DATA = {"loaderData": {oops</script>`))
	})
	mux.HandleFunc("/share/nofields", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/share/video/nofields", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>window._ROUTER_DATA = {"loaderData":{"video_(id)/page":{"videoInfoRes":{"item_list":[]}}}}</script>`))
	})
	mux.HandleFunc("/share/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	client := fixtureClient(t, mux)

	r := New(client, config.ResolverConfig{}, WithPlatform(
		"platform-a.example", "platform-a",
		NewDouyin(client, "", "https://platform-a.example"),
	))

	tests := []struct {
		name string
		text string
		kind apperrors.Kind
	}{
		{"no url", "nothing to see here", apperrors.KindLinkResolutionFailed},
		{"empty text", "", apperrors.KindLinkResolutionFailed},
		{"unknown host", "watch https://videos.example.org/v/1", apperrors.KindUnsupportedPlatform},
		{"recognised but unimplemented", "https://www.xiaohongshu.com/explore/64a1b2c3d4", apperrors.KindUnsupportedPlatform},
		{"page without payload", "https://platform-a.example/share/missing", apperrors.KindLinkResolutionFailed},
		{"malformed payload", "https://platform-a.example/share/badjson", apperrors.KindLinkResolutionFailed},
		{"missing fields", "https://platform-a.example/share/nofields", apperrors.KindLinkResolutionFailed},
		{"non-2xx share page", "https://platform-a.example/share/gone", apperrors.KindLinkResolutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := r.Resolve(context.Background(), tt.text)
			if err == nil {
				t.Fatalf("expected error, got %+v", desc)
			}
			if got := apperrors.KindOf(err); got != tt.kind {
				t.Errorf("expected kind %v, got %v (%v)", tt.kind, got, err)
			}
		})
	}
}

func TestFirstURL(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"see https://v.douyin.com/abc/ now", "https://v.douyin.com/abc/"},
		{"link:https://a.example/x，快看", "https://a.example/x，快看"},
		{"(http://a.example/x).", "http://a.example/x"},
		{"two http://first.example and https://second.example", "http://first.example"},
		{"ftp://nope.example", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := FirstURL(tt.text); got != tt.want {
				t.Errorf("FirstURL(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://www.douyin.com/video/7301234567890123456", "7301234567890123456"},
		{"https://www.iesdouyin.com/share/video/123456/?from=web", "123456"},
		{"https://m.douyin.com/page?video=998877", "998877"},
		{"https://m.douyin.com/x/730123456789012345678", "730123456789012345678"},
		{"https://platform-a.example/share/xyz", "xyz"},
		{"https://platform-a.example/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if got := extractVideoID(u); got != tt.want {
				t.Errorf("extractVideoID(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"Demo", "Demo"},
		{"  ", "fallback"},
		{`a<b>c|d?e*f"g`, "a_b_c_d_e_f_g"},
		{"line\nbreak", "line break"},
		{"café", "café"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := cleanTitle(tt.desc, "fallback"); got != tt.want {
				t.Errorf("cleanTitle(%q) = %q, want %q", tt.desc, got, tt.want)
			}
		})
	}
}
