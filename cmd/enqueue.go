package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/app"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/queue"
)

func newEnqueueCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Push unit ids onto the work queue",
		Long: `Reads unit ids from a file and sends them to the work queue in batches.
The file holds either JSON lines with an "id" field or one id per line.
Blank lines and repeated ids are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := enqueueFile(cmd.Context(), a, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d units\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file of unit ids (JSONL or plain lines)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func enqueueFile(ctx context.Context, a *app.App, path string) (int, error) {
	// #nosec G304 -- the operator chooses the input file.
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	ids, err := readUnitIDs(f)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	sent := 0
	for _, batch := range queue.Batches(ids, queue.EnqueueBatchSize) {
		if err := a.Queue.Enqueue(ctx, batch...); err != nil {
			return sent, fmt.Errorf("enqueue batch at %d: %w", sent, err)
		}
		sent += len(batch)
	}
	a.Logger.Debug("units enqueued", zap.Int("units", sent))
	return sent, nil
}

type unitLine struct {
	ID json.RawMessage `json:"id"`
}

// readUnitIDs parses one id per line. A line starting with '{' is a JSON
// object whose "id" is a string or a number.
func readUnitIDs(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var ids []string
	seen := make(map[string]struct{})
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		id := string(line)
		if line[0] == '{' {
			parsed, err := parseUnitLine(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			id = parsed
		}
		if err := harvest.ValidateUnit(id); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return ids, nil
}

func parseUnitLine(line []byte) (string, error) {
	var u unitLine
	if err := json.Unmarshal(line, &u); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(u.ID) == 0 || string(u.ID) == "null" {
		return "", fmt.Errorf("missing id")
	}
	var s string
	if err := json.Unmarshal(u.ID, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(u.ID, &n); err != nil {
		return "", fmt.Errorf("id must be a string or number: %s", u.ID)
	}
	return n.String(), nil
}
