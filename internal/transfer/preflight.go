package transfer

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spider-crawler/shopsync/internal/mapper"
)

// Image source types reported by Preflight.
const (
	SourceLocal   = "local"
	SourceRemote  = "remote"
	SourceInvalid = "invalid"
)

// PreflightItem is the dry-run verdict for one image.
type PreflightItem struct {
	Idx         int    `json:"idx"`
	Source      string `json:"source"`
	SourceType  string `json:"source_type"`
	LocalExists bool   `json:"local_exists"`
	Dest        string `json:"dest"`
}

func imageRefs(sources []string) []mapper.ImageRef {
	refs := make([]mapper.ImageRef, 0, len(sources))
	for _, src := range sources {
		src = strings.TrimSpace(src)
		refs = append(refs, mapper.ImageRef{
			Position: len(refs) + 1,
			Source:   src,
			Local:    !mapper.IsRemote(src),
			Cover:    len(refs) == 0,
		})
	}
	return refs
}

func (p *Pipeline) preflight(images []mapper.ImageRef) []PreflightItem {
	items := make([]PreflightItem, 0, len(images))
	for i, img := range images {
		items = append(items, checkImage(i, img.Source, p.imagesDir))
	}
	return items
}

func checkImage(idx int, src, imagesDir string) PreflightItem {
	item := PreflightItem{Idx: idx, Source: src, SourceType: SourceInvalid}
	src = strings.TrimSpace(src)
	if src == "" {
		return item
	}

	if mapper.IsRemote(src) {
		u, err := url.Parse(src)
		if err != nil || u.Host == "" {
			return item
		}
		item.SourceType = SourceRemote
		item.Dest = u.String()
		return item
	}
	src = strings.TrimPrefix(src, "file://")
	// Anything else with a scheme (data:, ftp:) is not usable.
	if u, err := url.Parse(src); err == nil && len(u.Scheme) > 1 {
		return item
	}

	path := filepath.FromSlash(src)
	if !filepath.IsAbs(path) {
		path = filepath.Join(imagesDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	item.SourceType = SourceLocal
	item.Dest = path
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		item.LocalExists = true
	}
	return item
}

// blocking returns the indexes of images that would fail to write.
func blocking(items []PreflightItem) []string {
	var bad []string
	for _, it := range items {
		if it.SourceType == SourceInvalid || (it.SourceType == SourceLocal && !it.LocalExists) {
			bad = append(bad, strconv.Itoa(it.Idx))
		}
	}
	return bad
}
