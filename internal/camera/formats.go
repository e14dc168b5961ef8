package camera

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"muffin/internal/surface"
)

// fourccFormats はV4L2のピクセルフォーマットと出力フォーマットの対応
var fourccFormats = map[string]surface.Format{
	"YUYV": surface.FormatYUV420,
	"NV12": surface.FormatYUV420,
	"NV21": surface.FormatYUV420,
	"YU12": surface.FormatYUV420,
	"YV12": surface.FormatYUV420,
	"MJPG": surface.FormatJPEG,
	"JPEG": surface.FormatJPEG,
}

var (
	// "[0]: 'YUYV' (YUYV 4:2:2)" 形式の行
	formatLinePattern = regexp.MustCompile(`\[\d+\]:\s*'([0-9A-Z]{2,4})\s*'`)
	// "Size: Discrete 1280x720" 形式の行
	sizeLinePattern = regexp.MustCompile(`Size:\s*\w+\s+(\d+)x(\d+)`)
)

// capabilities はデバイスが出力できるフォーマットと解像度
type capabilities struct {
	formats []surface.Format
	width   int // 最大の解像度
	height  int
}

// listCapabilities はv4l2-ctlを使ってデバイスの出力フォーマット一覧を取得する
func listCapabilities(ctx context.Context, device string) (capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return capabilities{}, fmt.Errorf("フォーマット一覧の取得に失敗: %w", err)
	}
	return parseFormatList(string(output)), nil
}

// parseFormatList はフォーマット一覧から対応する出力フォーマットと最大の解像度を抽出する
// 解像度は対応するフォーマットのものだけを数える
func parseFormatList(output string) capabilities {
	var caps capabilities
	seen := make(map[surface.Format]bool)
	supported := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := formatLinePattern.FindStringSubmatch(line); len(m) == 2 {
			f, ok := fourccFormats[m[1]]
			supported = ok
			if ok {
				seen[f] = true
			}
			continue
		}

		if m := sizeLinePattern.FindStringSubmatch(line); len(m) == 3 && supported {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			if w*h > caps.width*caps.height {
				caps.width, caps.height = w, h
			}
		}
	}

	caps.formats = make([]surface.Format, 0, len(seen))
	for f := range seen {
		caps.formats = append(caps.formats, f)
	}
	sortFormats(caps.formats)
	return caps
}

func sortFormats(formats []surface.Format) {
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
}
