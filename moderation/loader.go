package moderation

import (
	"bufio"
	"chat-relay/errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// LoadWords reads every *.txt file of fsys, one word per line.
// Blank lines and lines starting with '#' are ignored.
func LoadWords(fsys fs.FS) ([]string, error) {
	var words []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".txt" {
			return nil
		}
		file, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			words = append(words, line)
		}
		if err = scanner.Err(); err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, errors.ErrEmptyWords
	}
	return words, nil
}
