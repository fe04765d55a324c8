package media

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindHEIC
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindHEIC:
		return "heic"
	case KindVideo:
		return "video"
	default:
		return "other"
	}
}

var kinds = map[string]Kind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".bmp":  KindImage,
	".webp": KindImage,
	".heic": KindHEIC,
	".heif": KindHEIC,
	".hif":  KindHEIC,
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".avi":  KindVideo,
	".mkv":  KindVideo,
	".webm": KindVideo,
	".m4v":  KindVideo,
}

// Classify returns the media kind for a file name based on its extension.
func Classify(name string) Kind {
	return kinds[strings.ToLower(filepath.Ext(name))]
}

// RunDirPrefix marks toolkit output directories; Scan never descends into them.
const RunDirPrefix = "wf_"

// File is a media file found under a scan root.
type File struct {
	Path string // absolute or root-joined path
	Rel  string // path relative to the scan root
	Kind Kind
}

// Scan lists media files under root. Hidden directories and run directories
// are skipped. Results are sorted by relative path.
func Scan(root string, recursive bool) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat '%s': %w", root, err)
	}
	if !info.IsDir() {
		k := Classify(root)
		if k == KindOther {
			return nil, nil
		}
		return []File{{Path: root, Rel: filepath.Base(root), Kind: k}}, nil
	}

	var files []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if !recursive || strings.HasPrefix(name, ".") || strings.HasPrefix(name, RunDirPrefix) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		k := Classify(d.Name())
		if k == KindOther {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: path, Rel: rel, Kind: k})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan '%s': %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}
