package index

import (
	"net/url"
	"path"
	"strings"

	"github.com/hpungsan/chirpkeep/internal/classify"
)

// SelectMediaURL returns the source URL to archive for m. Photos use
// media_url_https; videos and animated GIFs use the highest-bitrate variant,
// the first declared one winning ties. The query string is dropped.
func SelectMediaURL(m classify.MediaEntity) string {
	src := m.MediaURLHTTPS

	if (m.Type == "video" || m.Type == "animated_gif") && m.VideoInfo != nil {
		best := -1
		for _, v := range m.VideoInfo.Variants {
			if v.Bitrate == nil || v.URL == "" {
				continue
			}
			if *v.Bitrate > best {
				best = *v.Bitrate
				src = v.URL
			}
		}
	}
	return stripQuery(src)
}

func stripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// mediaFilename names the saved file after the media ID, keeping the source
// extension.
func mediaFilename(mediaID, src string) string {
	ext := ".bin"
	if u, err := url.Parse(src); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return mediaID + ext
}
