package hwsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		want    Options
		wantErr error
	}{
		{
			name: "значения по умолчанию",
			raw:  nil,
			want: Options{Width: 1920, Height: 1080, InputFormat: "h264", Framerate: 30, Timestamps: TimestampsAbs},
		},
		{
			name: "явные опции",
			raw:  map[string]string{"video_size": "1280x720", "framerate": "25", "timestamps": "mono2abs"},
			want: Options{Width: 1280, Height: 720, InputFormat: "h264", Framerate: 25, Timestamps: TimestampsMono2Abs},
		},
		{
			name: "сокращение размера",
			raw:  map[string]string{"video_size": "vga", "input_format": "H264"},
			want: Options{Width: 640, Height: 480, InputFormat: "h264", Framerate: 30, Timestamps: TimestampsAbs},
		},
		{
			name:    "неизвестная опция",
			raw:     map[string]string{"pixel_format": "yuv420p"},
			wantErr: ErrInvalidOption,
		},
		{
			name:    "невалидный размер",
			raw:     map[string]string{"video_size": "1920*1080"},
			wantErr: ErrInvalidOption,
		},
		{
			name:    "нулевая частота кадров",
			raw:     map[string]string{"framerate": "0"},
			wantErr: ErrInvalidOption,
		},
		{
			name:    "не h264",
			raw:     map[string]string{"input_format": "mjpeg"},
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "неизвестный режим меток",
			raw:     map[string]string{"timestamps": "relative"},
			wantErr: ErrInvalidOption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigFormatDetection(t *testing.T) {
	tests := []struct {
		file   string
		format string
	}{
		{"/dev/video0", FormatV4L2},
		{"/media/camera.mp4", FormatMP4},
		{"clip.MOV", FormatMP4},
		{"capture.ts", FormatMPEGTS},
		{"stream.bin", ""},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			cfg := Config{File: tt.file}
			cfg.ApplyDefaults()
			assert.Equal(t, tt.format, cfg.Format)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig("/dev/video0")
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)

	cfg.MTU = 20
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidOption)

	cfg = DefaultConfig("stream.bin")
	cfg.ApplyDefaults()
	assert.ErrorIs(t, cfg.Validate(), ErrUnsupportedFormat)

	cfg = DefaultConfig("clip.mp4")
	cfg.MetadataErrors = "backslashreplace"
	cfg.ApplyDefaults()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidOption)

	cfg = DefaultConfig("/dev/video0")
	cfg.Options = map[string]string{"framerate": "fast"}
	cfg.ApplyDefaults()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidOption)

	_, err := Open(Config{})
	assert.Error(t, err)
}
