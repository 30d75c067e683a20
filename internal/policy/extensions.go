// Package policy maps library content categories onto file extension
// allow-lists and answers whether an individual file name is admissible.
package policy

import (
	"path/filepath"
	"strings"
)

// Library categories understood by the host. Anything else falls back to the
// union of every configured list.
const (
	CategoryPhotos  = "photos"
	CategoryMovies  = "movies"
	CategoryTVShows = "tvshows"
	CategoryMusic   = "music"
	CategoryBooks   = "books"
)

// Rules carries the per-category extension lists as comma-separated strings,
// matching the host plugin configuration surface. Entries may be written with
// or without a leading dot in any case.
type Rules struct {
	Photos  string
	Videos  string
	Movies  string
	TVShows string
	Anime   string
	Music   string
	Books   string
}

// DefaultRules mirrors the host plugin defaults.
func DefaultRules() Rules {
	return Rules{
		Photos:  ".jpg,.jpeg,.png,.gif,.webp,.bmp,.tiff,.heic,.raw",
		Videos:  ".mp4,.mkv,.avi,.mov,.wmv,.flv,.webm,.m4v,.3gp,.mpg,.mpeg",
		Movies:  ".mp4,.mkv,.avi,.mov,.wmv,.flv,.webm,.m4v,.ts,.m2ts,.iso,.img,.vob,.ifo,.bup",
		TVShows: ".mp4,.mkv,.avi,.mov,.wmv,.flv,.webm,.m4v,.ts,.m2ts,.mpg,.mpeg,.ogv",
		Anime:   ".mp4,.mkv,.avi,.mov,.wmv,.flv,.webm,.m4v,.ogv,.rm,.rmvb,.asf",
		Music:   ".mp3,.flac,.wav,.aac,.ogg,.wma,.m4a,.opus,.ape,.dsd,.dsf,.dff",
		Books:   ".pdf,.epub,.mobi,.azw,.azw3,.cbr,.cbz,.cb7,.cbt,.mp3,.m4a,.m4b,.aax,.aa,.flac",
	}
}

// Allowed returns the normalized extension set for the provided library
// category. Unrecognized categories (mixed libraries, folders without a
// collection type) receive the union of every configured list so an
// unclassified library is never stricter than the host as a whole. An empty
// result means no restriction.
func (r Rules) Allowed(category string) map[string]struct{} {
	set := make(map[string]struct{})
	switch strings.ToLower(strings.TrimSpace(category)) {
	case CategoryPhotos:
		addExtensions(set, r.Photos)
	case CategoryMovies:
		addExtensions(set, r.Movies)
	case CategoryTVShows:
		addExtensions(set, r.TVShows)
	case CategoryMusic:
		addExtensions(set, r.Music)
	case CategoryBooks:
		addExtensions(set, r.Books)
	default:
		for _, group := range []string{r.Photos, r.Videos, r.Movies, r.TVShows, r.Anime, r.Music, r.Books} {
			addExtensions(set, group)
		}
	}
	return set
}

// Allowed reports whether fileName passes the provided allow-list. An empty
// set admits everything. Matching is case-insensitive and ignores whether the
// configured entry carries a leading dot.
func Allowed(set map[string]struct{}, fileName string) bool {
	if len(set) == 0 {
		return true
	}
	ext := normalizeExtension(filepath.Ext(fileName))
	if ext == "" {
		return false
	}
	_, ok := set[ext]
	return ok
}

func addExtensions(set map[string]struct{}, group string) {
	for _, raw := range strings.Split(group, ",") {
		if ext := normalizeExtension(raw); ext != "" {
			set[ext] = struct{}{}
		}
	}
}

func normalizeExtension(raw string) string {
	ext := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimPrefix(ext, ".")
}
