package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"offlinesync/internal/models"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Queue"

var exportHeaders = []string{"#", "ID", "Kind", "Resource type", "Resource ID", "Status", "Retries", "Enqueued at", "Last error", "Payload"}

func NewExportCommand(opts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the queue to an Excel workbook for support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd.Context(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			if dir == "" {
				dir = s.cfg.Exports.Path
			}
			ops := s.engine.QueueSnapshot(cmd.Context())
			path, err := ExportQueue(ops, dir, time.Now())
			if err != nil {
				return WrapExitError(ExitFailure, "export failed", err)
			}
			s.logger.Info().Str("file_path", path).Int("operations", len(ops)).Msg("Excel file created")

			return opts.formatter(cmd).Success(map[string]any{"path": path, "operations": len(ops)}, func(w io.Writer) {
				fmt.Fprintf(w, "exported %d operation(s) to %s\n", len(ops), path)
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "output", "o", "", "output directory (defaults to exports.path)")
	return cmd
}

// ExportQueue writes ops to sync_queue_<timestamp>.xlsx in dir and returns the file path.
func ExportQueue(ops []models.SyncOperation, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	failedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
		_ = f.SetCellStyle(exportSheet, cell, cell, headerStyle)
	}

	for i, op := range ops {
		row := i + 2
		values := []any{
			i + 1,
			op.ID,
			string(op.Kind),
			op.ResourceType,
			op.ResourceID,
			string(op.Status),
			op.RetryCount,
			op.EnqueuedAt.Format("2006-01-02 15:04:05"),
			op.LastError,
			string(op.Payload),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}
		if op.RetryCount > 0 {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(exportSheet, first, last, failedStyle)
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 6)
	_ = f.SetColWidth(exportSheet, "B", "B", 38)
	_ = f.SetColWidth(exportSheet, "C", "H", 18)
	_ = f.SetColWidth(exportSheet, "I", "J", 40)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("sync_queue_%s.xlsx", now.Format("2006-01-02_150405"))
	filePath := filepath.Join(dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}
