package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/cybozu-go/minato/cache"
	"github.com/pkg/errors"
)

// confirm prompts the user on stdin unless force is set, grounded on
// original_source/minato/commands/remove.py and update.py's
// "print the affected entries, ask y/N" flow.
func confirm(force bool, prompt string) (bool, error) {
	if force {
		return true, nil
	}
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// selectEntries narrows entries via the configured selector_command
// when the caller supplied no explicit query terms, piping candidate
// "uid\turl" lines to the command's stdin and reading back the chosen
// lines from stdout, grounded on
// original_source/minato/common/selector.py.
func selectEntries(selectorCommand string, queries []string, entries []*cache.Entry) ([]*cache.Entry, error) {
	if len(queries) > 0 || selectorCommand == "" || selectorCommand == "none" {
		return entries, nil
	}
	if len(entries) == 0 {
		return entries, nil
	}

	var input strings.Builder
	byLine := map[string]*cache.Entry{}
	for _, e := range entries {
		line := e.UID + "\t" + e.URL
		byLine[line] = e
		input.WriteString(line)
		input.WriteByte('\n')
	}

	cmd := exec.Command("sh", "-c", selectorCommand)
	cmd.Stdin = strings.NewReader(input.String())
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "selector_command %q", selectorCommand)
	}

	var selected []*cache.Entry
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if e, ok := byLine[line]; ok {
			selected = append(selected, e)
		}
	}
	return selected, nil
}
