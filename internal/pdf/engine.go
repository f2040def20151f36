// Package pdf はPDF変換の実体（結合・圧縮・変換）を提供します。
// ワーカーからはローカルファイルパスを受け取る不透明な変換能力として使われます。
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/doc-forge/internal/apperr"
)

// CompressPreset は圧縮プリセットの種類を表します。
type CompressPreset string

const (
	CompressPresetStandard   CompressPreset = "standard"
	CompressPresetAggressive CompressPreset = "aggressive"
)

// Engine は pdfcpu と Ghostscript によるPDF処理エンジンです。
type Engine struct {
	ghostscriptPath string
	preset          CompressPreset
}

// NewEngine はエンジンを作成します。gsPath が空の場合は PATH 上の gs を使います。
func NewEngine(gsPath string, preset CompressPreset) *Engine {
	if gsPath == "" {
		gsPath = "gs"
	}
	if preset == "" {
		preset = CompressPresetStandard
	}
	return &Engine{ghostscriptPath: gsPath, preset: preset}
}

// Merge は inputs を指定順で1つのPDFに結合します。順序は保たれます。
func (e *Engine) Merge(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return apperr.Validation("merge requires at least one input file")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pdfapi.MergeCreateFile(inputs, output, false, nil); err != nil {
		return apperr.Processing("PDFの結合に失敗しました。入力が破損していないか確認してください。", err)
	}
	return nil
}

// Compress は Ghostscript でPDFを圧縮します。
func (e *Engine) Compress(ctx context.Context, input, output string) error {
	args := ghostscriptArgs(output, input, e.preset)

	cmd := exec.CommandContext(ctx, e.ghostscriptPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return apperr.Processing(fmt.Sprintf("Ghostscriptによる圧縮に失敗しました: %s", stderr.String()), err)
	}
	return nil
}

// ConvertToPDF は入力ファイルをPDFへ変換します。画像は pdfcpu の取り込みで
// 変換し、既にPDFのものはそのままコピーします。それ以外は恒久的な失敗です。
func (e *Engine) ConvertToPDF(ctx context.Context, input, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(input)) {
	case ".pdf":
		return copyFile(input, output)
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff", ".webp":
		if err := pdfapi.ImportImagesFile([]string{input}, output, nil, nil); err != nil {
			return apperr.Processing("画像からPDFへの変換に失敗しました。", err)
		}
		return nil
	default:
		return apperr.Processing(fmt.Sprintf("unsupported input for conversion: %s", filepath.Base(input)), nil)
	}
}

func ghostscriptArgs(outputPath, inputPath string, preset CompressPreset) []string {
	setting := "/printer"
	if preset == CompressPresetAggressive {
		setting = "/screen"
	}

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dPDFSETTINGS=%s", setting),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
