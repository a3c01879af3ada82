package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// maxKeypairs bounds the numbered keypair scan.
const maxKeypairs = 256

// keypairPaths returns path followed by its numbered siblings: key.json,
// key1.json, key2.json and so on.
func keypairPaths(path string, n int) []string {
	dir, file := filepath.Split(path)
	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	if ext == "" {
		ext = ".json"
	}

	paths := make([]string, 0, n)
	paths = append(paths, path)
	for i := 1; i < n; i++ {
		paths = append(paths, filepath.Join(dir, fmt.Sprintf("%s%d%s", stem, i, ext)))
	}
	return paths
}

// loadSigners reads the keypair at path and every consecutive numbered
// sibling, stopping at the first that cannot be read.
func loadSigners(path string) ([]solana.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("no keypair provided")
	}

	var signers []solana.PrivateKey
	for _, p := range keypairPaths(path, maxKeypairs) {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(p)
		if err != nil {
			if len(signers) == 0 {
				return nil, fmt.Errorf("failed to read keypair %s: %w", p, err)
			}
			break
		}
		signers = append(signers, key)
	}
	return signers, nil
}
