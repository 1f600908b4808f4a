package media

import (
	"math"
	"testing"
)

func TestSampleTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		sampling Sampling
		want     int
		first    float64
		last     float64
	}{
		{
			name:     "one per second over 12s",
			duration: 12.0,
			sampling: Sampling{EveryNSeconds: 1.0, MaxFrames: 120},
			want:     12,
			first:    0.0,
			last:     11.0,
		},
		{
			name:     "capped by max frames",
			duration: 600.0,
			sampling: Sampling{EveryNSeconds: 1.0, MaxFrames: 120},
			want:     120,
			first:    0.0,
			last:     119.0,
		},
		{
			name:     "half-second step",
			duration: 3.0,
			sampling: Sampling{EveryNSeconds: 0.5, MaxFrames: 120},
			want:     6,
			first:    0.0,
			last:     2.5,
		},
		{
			name:     "very short video yields at least one frame",
			duration: 0.2,
			sampling: Sampling{EveryNSeconds: 1.0, MaxFrames: 120},
			want:     1,
			first:    0.0,
			last:     0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sampleTimestamps(tt.duration, tt.sampling)
			if len(got) != tt.want {
				t.Fatalf("expected %d timestamps, got %d", tt.want, len(got))
			}
			if math.Abs(got[0]-tt.first) > 1e-9 {
				t.Errorf("expected first timestamp %f, got %f", tt.first, got[0])
			}
			if math.Abs(got[len(got)-1]-tt.last) > 1e-9 {
				t.Errorf("expected last timestamp %f, got %f", tt.last, got[len(got)-1])
			}
			for i := 1; i < len(got); i++ {
				if got[i] <= got[i-1] {
					t.Errorf("timestamps not increasing at index %d: %f <= %f", i, got[i], got[i-1])
				}
			}
		})
	}
}

func TestParseFFmpegDuration(t *testing.T) {
	output := `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'test.mp4':
  Duration: 00:00:12.34, start: 0.000000, bitrate: 1205 kb/s
    Stream #0:0(und): Video: h264`

	duration, err := parseFFmpegDuration(output)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(duration-12.34) > 0.01 {
		t.Errorf("expected 12.34, got %f", duration)
	}
}

func TestParseFFmpegDurationMissing(t *testing.T) {
	if _, err := parseFFmpegDuration("no duration here"); err == nil {
		t.Error("expected error for output without duration")
	}
}

func TestParseShowinfoTimestamps(t *testing.T) {
	output := `[Parsed_showinfo_1 @ 0x55] n:   0 pts:  12800 pts_time:0.52    duration
[Parsed_showinfo_1 @ 0x55] n:   1 pts:  76800 pts_time:3.1     duration
not a showinfo line`

	got := parseShowinfoTimestamps(output)
	if len(got) != 2 {
		t.Fatalf("expected 2 timestamps, got %d", len(got))
	}
	if math.Abs(got[0]-0.52) > 1e-9 || math.Abs(got[1]-3.1) > 1e-9 {
		t.Errorf("unexpected timestamps: %v", got)
	}
}
