package orchestrator

import (
	"regexp"
	"strings"

	"milo/internal/applier"
)

var (
	editClaimVerbPattern = regexp.MustCompile(`(?i)\b(created|modified|saved|updated|wrote|edited|added to)\b`)
	filePathPattern      = regexp.MustCompile("`?([\\w./\\\\-]+\\.[A-Za-z0-9]{1,8})`?")
	fencedBlockPattern   = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n(.*?)```")
)

// claimsFileEdits reports whether the response text claims file modifications:
// an edit verb plus at least one file-shaped token.
func claimsFileEdits(text string) bool {
	return editClaimVerbPattern.MatchString(text) && filePathPattern.MatchString(text)
}

// synthesizeChanges reconstructs change entries from a response that claims
// edits in prose with fenced code blocks instead of a changes array. Each
// claimed path maps to the nearest preceding fenced block; with exactly one
// claimed path and one block, they pair directly.
func synthesizeChanges(text string) []applier.Change {
	blocks := fencedBlockPattern.FindAllStringSubmatchIndex(text, -1)
	if len(blocks) == 0 {
		return nil
	}

	var paths []string
	var pathOffsets []int
	seen := make(map[string]struct{})
	for _, loc := range filePathPattern.FindAllStringSubmatchIndex(text, -1) {
		path := text[loc[2]:loc[3]]
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
		pathOffsets = append(pathOffsets, loc[0])
	}
	if len(paths) == 0 {
		return nil
	}

	if len(paths) == 1 && len(blocks) == 1 {
		content := text[blocks[0][2]:blocks[0][3]]
		return []applier.Change{{File: paths[0], Edited: content}}
	}

	var changes []applier.Change
	for i, path := range paths {
		block := nearestPrecedingBlock(blocks, pathOffsets[i])
		if block == nil {
			// No block before the mention; fall back to the first one after.
			block = nearestFollowingBlock(blocks, pathOffsets[i])
		}
		if block == nil {
			continue
		}
		changes = append(changes, applier.Change{
			File:   path,
			Edited: text[block[2]:block[3]],
		})
	}
	return applier.CollapseDuplicates(changes)
}

func nearestPrecedingBlock(blocks [][]int, offset int) []int {
	var best []int
	for _, block := range blocks {
		if block[1] <= offset {
			best = block
		}
	}
	return best
}

func nearestFollowingBlock(blocks [][]int, offset int) []int {
	for _, block := range blocks {
		if block[0] >= offset {
			return block
		}
	}
	return nil
}

// stripFencedBlocks removes code fences from response text shown to the user
// after synthesis, so the same code is not presented twice.
func stripFencedBlocks(text string) string {
	return strings.TrimSpace(fencedBlockPattern.ReplaceAllString(text, ""))
}
