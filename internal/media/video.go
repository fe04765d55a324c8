package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

type ExtractMode string

const (
	ModeInterval  ExtractMode = "interval"
	ModeScene     ExtractMode = "scene"
	ModePositions ExtractMode = "positions"
)

var ErrNoFrames = errors.New("no frames extracted from video")

type ExtractOptions struct {
	Mode           ExtractMode
	Interval       time.Duration
	SceneThreshold float64
	Positions      []float64
	MaxFrames      int
}

// Frame is one still extracted from a video. Offset is negative when the
// position in the video is unknown (scene detection).
type Frame struct {
	Path   string        `json:"path"`
	Video  string        `json:"video"`
	Offset time.Duration `json:"offset"`
}

// FrameExtractor pulls stills out of videos with ffmpeg.
type FrameExtractor struct {
	opts ExtractOptions
}

func NewFrameExtractor(opts ExtractOptions) *FrameExtractor {
	return &FrameExtractor{opts: opts}
}

// Extract writes frames of videoPath into outDir as
// <name>_frame_0001.jpg, <name>_frame_0002.jpg, ... where name is the video's
// file name including its extension, so clip.mp4 and clip.mov in one
// directory never share frames.
func (e *FrameExtractor) Extract(ctx context.Context, videoPath, outDir string) ([]Frame, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory '%s': %w", outDir, err)
	}
	prefix := framePrefix(videoPath)

	if e.opts.Mode == ModePositions {
		return e.extractPositions(ctx, videoPath, outDir, prefix)
	}

	vf, err := frameFilter(e.opts)
	if err != nil {
		return nil, err
	}
	outKw := ffmpeg.KwArgs{"vf": vf, "q:v": 2}
	if e.opts.Mode == ModeScene {
		outKw["fps_mode"] = "vfr"
	}
	if e.opts.MaxFrames > 0 {
		outKw["frames:v"] = e.opts.MaxFrames
	}
	pattern := filepath.Join(outDir, prefix+"_frame_%04d.jpg")
	stream := ffmpeg.Input(videoPath).Output(pattern, outKw).OverWriteOutput()
	if err := runFFmpeg(ctx, stream); err != nil {
		return nil, fmt.Errorf("failed to extract frames from '%s': %w", videoPath, err)
	}

	paths, err := listFrames(outDir, prefix)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrNoFrames
	}

	frames := make([]Frame, 0, len(paths))
	for i, p := range paths {
		offset := time.Duration(-1)
		if e.opts.Mode == ModeInterval {
			offset = time.Duration(i) * e.opts.Interval
		}
		frames = append(frames, Frame{Path: p, Video: videoPath, Offset: offset})
	}
	return frames, nil
}

func (e *FrameExtractor) extractPositions(ctx context.Context, videoPath, outDir, prefix string) ([]Frame, error) {
	probe, err := ProbeVideo(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	offsets := positionOffsets(probe.Duration, e.opts.Positions, e.opts.MaxFrames)

	var frames []Frame
	for i, off := range offsets {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		out := filepath.Join(outDir, fmt.Sprintf("%s_frame_%04d.jpg", prefix, i+1))
		stream := ffmpeg.Input(videoPath, ffmpeg.KwArgs{"ss": off.Seconds()}).
			Output(out, ffmpeg.KwArgs{
				"vframes": 1,
				"format":  "image2",
				"vcodec":  "mjpeg",
				"q:v":     2,
			}).
			OverWriteOutput()
		if err := runFFmpeg(ctx, stream); err != nil {
			return nil, fmt.Errorf("failed to extract frame at position %v: %w", off, err)
		}
		frames = append(frames, Frame{Path: out, Video: videoPath, Offset: off})
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

// framePrefix names the frames of a video. ffmpeg's image2 muxer reads '%'
// in an output name as a pattern, so it is replaced.
func framePrefix(videoPath string) string {
	return strings.ReplaceAll(filepath.Base(videoPath), "%", "_")
}

// listFrames returns the frames named <prefix>_frame_<digits>.jpg in dir,
// sorted. The prefix is matched literally.
func listFrames(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	var paths []string
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, prefix+"_frame_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		num := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"_frame_"), ".jpg")
		if num == "" || strings.Trim(num, "0123456789") != "" {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func frameFilter(opts ExtractOptions) (string, error) {
	switch opts.Mode {
	case ModeInterval:
		if opts.Interval <= 0 {
			return "", fmt.Errorf("interval must be positive, got %v", opts.Interval)
		}
		return "fps=1/" + strconv.FormatFloat(opts.Interval.Seconds(), 'f', -1, 64), nil
	case ModeScene:
		return fmt.Sprintf("select='gt(scene,%s)'", strconv.FormatFloat(opts.SceneThreshold, 'f', -1, 64)), nil
	default:
		return "", fmt.Errorf("unknown extraction mode %q", opts.Mode)
	}
}

// positionOffsets maps fractional positions onto a duration. When the
// duration is unknown a 10 second clip is assumed.
func positionOffsets(duration time.Duration, positions []float64, maxFrames int) []time.Duration {
	if duration <= 0 {
		duration = 10 * time.Second
	}
	if maxFrames > 0 && len(positions) > maxFrames {
		positions = positions[:maxFrames]
	}
	offsets := make([]time.Duration, 0, len(positions))
	for _, p := range positions {
		offsets = append(offsets, time.Duration(float64(duration)*p).Round(time.Millisecond))
	}
	return offsets
}

// VideoInfo is the subset of ffprobe output the toolkit uses. Created is zero
// when the container carries no creation time.
type VideoInfo struct {
	Duration time.Duration
	Width    int
	Height   int
	Created  time.Time
	Camera   string
}

type probeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// ProbeVideo runs ffprobe with the arguments ffmpeg.Probe uses, under ctx.
func ProbeVideo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	args := ffmpeg.ConvertKwargsToCmdLineArgs(ffmpeg.KwArgs{"show_format": "", "show_streams": "", "of": "json"})
	cmd := exec.CommandContext(ctx, "ffprobe", append(args, videoPath)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to probe video: %w: %s", err, tail(stderr.String(), 5))
	}
	return parseProbe(stdout.String())
}

func parseProbe(data string) (*VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to parse probe output: %w", err)
	}
	info := &VideoInfo{}
	if out.Format.Duration != "" {
		secs, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
		}
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	if v := out.Format.Tags["creation_time"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			info.Created = t.Local()
		}
	}
	info.Camera = cameraName(out.Format.Tags["com.apple.quicktime.make"], out.Format.Tags["com.apple.quicktime.model"])
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Width, info.Height = s.Width, s.Height
			break
		}
	}
	return info, nil
}

func runFFmpeg(ctx context.Context, stream *ffmpeg.Stream) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", stream.GetArgs()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, tail(stderr.String(), 5))
	}
	return nil
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
