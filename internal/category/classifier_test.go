package category

import (
	"net/url"
	"testing"

	"github.com/any-hub/offline-hub/internal/config"
)

func TestClassifyPriorityOrder(t *testing.T) {
	classifier := newTestClassifier(t)

	testCases := []struct {
		name string
		url  string
		want Category
	}{
		{"png image", "https://app.example/img/photo.png", Image},
		{"uppercase extension", "https://app.example/img/PHOTO.JPEG", Image},
		{"svg on external host still image", "https://fonts.gstatic.com/logo.svg", Image},
		{"cdn path containing image", "https://cdn.jsdelivr.net/npm/some-image-lib/dist/x", Image},
		{"mp4 video", "https://app.example/video/clip.mp4", Video},
		{"mov uppercase", "https://app.example/v/CLIP.MOV", Video},
		{"youtube host", "https://www.youtube.com/embed/abc", Video},
		{"vimeo html page is video", "https://player.vimeo.com/index.html", Video},
		{"google fonts css", "https://fonts.googleapis.com/css2?family=Orbitron", External},
		{"cdn script is external before script rule", "https://cdn.jsdelivr.net/npm/chart.js", External},
		{"unknown third party script", "https://other.example/lib.js", HTMLOrScript},
		{"root", "https://app.example/", HTMLOrScript},
		{"empty path", "https://app.example", HTMLOrScript},
		{"html page", "https://app.example/index.html", HTMLOrScript},
		{"module script", "https://app.example/app.MJS", HTMLOrScript},
		{"manifest json", "https://app.example/manifest.json", Default},
		{"api call", "https://app.example/api/scores?limit=10", Default},
		{"extension only in query", "https://app.example/file?name=a.png", Default},
		{"uppercase HTML suffix is not html", "https://app.example/INDEX.HTML", Default},
		{"directory named like image", "https://app.example/assets.png/", HTMLOrScript},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.url)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := classifier.Classify(u); got != tc.want {
				t.Fatalf("Classify(%s) = %s, want %s", tc.url, got, tc.want)
			}
		})
	}
}

func TestExternalRequiresForeignOrigin(t *testing.T) {
	rt := testRuntime(t)
	rt.Origin, _ = url.Parse("https://fonts.example")
	classifier := NewClassifier(rt)

	u, _ := url.Parse("https://fonts.example/api/list")
	if got := classifier.Classify(u); got != Default {
		t.Fatalf("same-origin request must not be external, got %s", got)
	}
	other, _ := url.Parse("https://fonts.example:8443/api/list")
	if got := classifier.Classify(other); got != External {
		t.Fatalf("different port is a different origin, got %s", got)
	}
}

func TestClassifyIsTotal(t *testing.T) {
	classifier := newTestClassifier(t)
	inputs := []string{"", "mailto:a@b.c", "https://app.example/%2F..", "data:text/plain,hi"}
	for _, raw := range inputs {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		got := classifier.Classify(u)
		if _, ok := Lookup(got); !ok {
			t.Fatalf("Classify(%q) returned unbound category %s", raw, got)
		}
	}
	if classifier.Classify(nil) != Default {
		t.Fatalf("nil URL should classify as default")
	}
}

func TestBindingsCoverEveryCategory(t *testing.T) {
	names := config.NewCacheNames("iq-trainer", "2.0.0")
	want := map[Category]struct {
		strategy Strategy
		cache    string
		fallback int
	}{
		Image:        {StaleWhileRevalidate, names.Images, 404},
		Video:        {NetworkFirst, names.Videos, 503},
		External:     {NetworkFirst, names.API, 0},
		HTMLOrScript: {CacheFirst, names.Shell, 0},
		Default:      {NetworkFirst, names.Dynamic, 0},
	}
	if len(List()) != len(want) {
		t.Fatalf("expected %d bindings, got %d", len(want), len(List()))
	}
	for cat, expect := range want {
		b, ok := Lookup(cat)
		if !ok {
			t.Fatalf("missing binding for %s", cat)
		}
		if b.Strategy != expect.strategy || b.CacheName(names) != expect.cache || b.Fallback.Status != expect.fallback {
			t.Fatalf("binding for %s = %+v (cache %s)", cat, b, b.CacheName(names))
		}
	}
}

func newTestClassifier(t *testing.T) Classifier {
	t.Helper()
	return NewClassifier(testRuntime(t))
}

func testRuntime(t *testing.T) config.Runtime {
	t.Helper()
	rt, err := config.BuildRuntime(&config.Config{
		App: config.AppConfig{Name: "iq-trainer", Origin: "https://app.example", CacheVersion: "2.0.0"},
		Hosts: config.HostsConfig{
			CDN:      "cdn.jsdelivr.net",
			Video:    []string{"youtube.com", "vimeo.com"},
			External: []string{"googleapis.com", "gstatic.com", "cdn.jsdelivr.net", "fonts."},
		},
	})
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	return rt
}
