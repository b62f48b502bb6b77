package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/fahadfarid28/home-sub000/internal/derivation"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
	"github.com/fahadfarid28/home-sub000/internal/validation"
)

var allowedTools = map[string]bool{
	"ffmpeg":  true,
	"ffprobe": true,
	"drawio":  true,
}

var densitySuffix = regexp.MustCompile(`@([1-4])x$`)

var videoEncoders = map[string]string{
	"h264": "libx264",
	"vp9":  "libvpx-vp9",
	"av1":  "libaom-av1",
}

var audioEncoders = map[string]string{
	"aac":  "aac",
	"opus": "libopus",
}

// Exec probes and transcodes with external tools, staging bytes in a
// scratch directory.
type Exec struct {
	logger  logging.Logger
	workDir string
}

// NewExec creates an Exec that stages files under workDir, or the system
// temp directory when workDir is empty.
func NewExec(logger logging.Logger, workDir string) *Exec {
	if workDir == "" {
		workDir = os.TempDir()
	}

	return &Exec{
		logger:  logger.WithComponent("transcode"),
		workDir: workDir,
	}
}

// Probe implements Prober.
func (e *Exec) Probe(ctx context.Context, p pak.InputPath, data []byte) (pak.MediaProps, error) {
	class := pak.Classify(p)
	if !class.IsMedia() {
		return pak.MediaProps{}, errors.NewValidationError(errors.ErrCodeUnsupportedKind, "not a media input").WithPath(p.String())
	}

	props := pak.MediaProps{Kind: class.MediaKind(), Density: densityOf(p)}

	switch class {
	case pak.ClassSVG:
		props.Codec = "svg"
		if w, h, ok := svgSize(data); ok {
			props.Width, props.Height = w, h
		}
		return props, nil
	case pak.ClassDiagram:
		props.Codec = "drawio"
		return props, nil
	case pak.ClassBitmap:
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			props.Width, props.Height = uint32(cfg.Width), uint32(cfg.Height)
			props.Codec = derivation.NormalizeCodec(format)
			return props, nil
		}
	}

	probed, err := e.ffprobe(ctx, p, data)
	if err != nil {
		return pak.MediaProps{}, err
	}
	probed.Kind = props.Kind
	probed.Density = props.Density
	if class == pak.ClassBitmap && probed.Codec == "" {
		probed.Codec = derivation.NormalizeCodec(p.Ext())
	}

	return probed, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func (e *Exec) ffprobe(ctx context.Context, p pak.InputPath, data []byte) (pak.MediaProps, error) {
	var props pak.MediaProps

	err := e.withScratch(func(dir string) error {
		in := filepath.Join(dir, "input."+p.Ext())
		if err := os.WriteFile(in, data, 0o600); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "staging probe input", err)
		}

		out, err := e.run(ctx, "ffprobe", "-v", "error", "-print_format", "json", "-show_streams", "-show_format", in)
		if err != nil {
			return err
		}

		var parsed ffprobeOutput
		if err := json.Unmarshal(out, &parsed); err != nil {
			return errors.WrapValidation(err, errors.ErrCodeProbeFailed, "unreadable ffprobe output").WithPath(p.String())
		}

		for _, s := range parsed.Streams {
			switch s.CodecType {
			case "video":
				if props.Codec == "" {
					props.Codec = derivation.NormalizeCodec(s.CodecName)
					props.Width, props.Height = uint32(s.Width), uint32(s.Height)
				}
			case "audio":
				if props.AudioCodec == "" {
					props.AudioCodec = s.CodecName
				}
			}
		}
		if props.Codec == "" {
			props.Codec = props.AudioCodec
		}
		props.Container = containerOf(p, parsed.Format.FormatName)
		props.Duration, _ = strconv.ParseFloat(parsed.Format.Duration, 64)

		return nil
	})

	return props, err
}

// Transcode implements Transcoder.
func (e *Exec) Transcode(ctx context.Context, req Request) ([]byte, error) {
	if err := req.Kind.Validate(); err != nil {
		return nil, err
	}

	switch req.Kind.Tag {
	case derivation.TagIdentity, derivation.TagPassthrough:
		return req.Data, nil
	case derivation.TagSvgCleanup:
		return CleanupSVG(req.Data)
	}

	var result []byte
	err := e.withScratch(func(dir string) error {
		in := filepath.Join(dir, "input."+req.Input.Ext())
		out := filepath.Join(dir, "output."+req.Kind.OutputExt(req.Input))
		if err := os.WriteFile(in, req.Data, 0o600); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "staging transcode input", err)
		}

		tool, args := e.commandFor(req.Kind, in, out)
		if _, err := e.run(ctx, tool, args...); err != nil {
			return err
		}

		data, err := os.ReadFile(out)
		if err != nil {
			return errors.NewIOError(errors.ErrCodeReadFailed, "reading transcode output", err)
		}
		if req.Kind.Tag == derivation.TagDrawioRender {
			data = EmbedFonts(data, req.Fonts)
		}
		result = data

		return nil
	})
	if err != nil {
		return nil, errors.Propagate(err, "transcoding "+req.Input.String()+" as "+req.Kind.String())
	}

	return result, nil
}

func (e *Exec) commandFor(kind derivation.Kind, in, out string) (string, []string) {
	base := []string{"-y", "-loglevel", "error", "-i", in}

	switch kind.Tag {
	case derivation.TagBitmap:
		args := base
		if kind.MaxWidth > 0 {
			args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", kind.MaxWidth))
		}
		return "ffmpeg", append(args, "-frames:v", "1", out)
	case derivation.TagVideoThumbnail:
		return "ffmpeg", append(base, "-frames:v", "1", out)
	case derivation.TagVideo:
		return "ffmpeg", append(base,
			"-c:v", encoderFor(videoEncoders, kind.VideoCodec),
			"-c:a", encoderFor(audioEncoders, kind.AudioCodec),
			out)
	default:
		return "drawio", []string{"--export", "--format", "svg", "--embed-svg-images", "--output", out, in}
	}
}

// run executes an allowlisted tool after validating every argument.
func (e *Exec) run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	if err := validation.ValidateCommand(tool, allowedTools); err != nil {
		return nil, errors.WrapValidation(err, errors.ErrCodeCommandRejected, "command validation failed")
	}
	for _, arg := range args {
		if err := validation.ValidateArgument(arg, e.workDir); err != nil {
			return nil, errors.WrapValidation(err, errors.ErrCodeCommandRejected, fmt.Sprintf("invalid argument '%s'", arg))
		}
	}

	e.logger.Debug(ctx, "running tool", "tool", tool, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, tool, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewTimeoutError(errors.ErrCodeTranscodeFailed, tool+" interrupted: "+ctx.Err().Error())
		}
		return nil, errors.NewIOError(errors.ErrCodeTranscodeFailed,
			fmt.Sprintf("%s failed: %s", tool, strings.TrimSpace(stderr.String())), err)
	}

	return stdout.Bytes(), nil
}

func (e *Exec) withScratch(fn func(dir string) error) error {
	dir, err := os.MkdirTemp(e.workDir, "transcode-")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "creating scratch directory", err)
	}
	defer os.RemoveAll(dir)

	return fn(dir)
}

func encoderFor(table map[string]string, codec string) string {
	if enc, ok := table[codec]; ok {
		return enc
	}

	return codec
}

// densityOf reads the authored pixel density from a name like foo@2x.png.
func densityOf(p pak.InputPath) uint32 {
	name := strings.TrimSuffix(path.Base(p.String()), path.Ext(p.String()))
	if m := densitySuffix.FindStringSubmatch(name); m != nil {
		d, _ := strconv.Atoi(m[1])
		return uint32(d)
	}

	return 1
}

// containerOf picks the container name for a probed file. ffprobe reports
// families such as "mov,mp4,m4a,3gp,3g2,mj2", so the extension decides
// when it is one of them.
func containerOf(p pak.InputPath, formatName string) string {
	ext := p.Ext()
	for _, name := range strings.Split(formatName, ",") {
		if name == ext {
			return ext
		}
	}
	if ext == "webm" && strings.Contains(formatName, "matroska") {
		return "webm"
	}
	name, _, _ := strings.Cut(formatName, ",")

	return name
}
