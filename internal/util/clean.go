// Package util holds small helpers shared by the import path.
package util

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Keyword exports from spreadsheets and crawlers routinely carry smart
// punctuation and windows-1252 leftovers; normalize them before storing.
var charReplacementMap = map[string]string{
	"‘": "'", "’": "'", "“": "\"", "”": "\"",
	"–": "-", "—": "--", "…": "...", " ": " ",
	"": "'", "": "'", "": "\"", "": "\"",
}

// CleanFileContent strips a UTF-8 BOM, repairs invalid UTF-8 and replaces
// common smart-punctuation characters. src names the input in log messages.
func CleanFileContent(fileContentBytes []byte, src string) (string, error) {
	fileContentBytes = bytes.TrimPrefix(fileContentBytes, utf8BOM)

	if !utf8.Valid(fileContentBytes) {
		log.WithField("source", src).Warn("invalid UTF-8, replacing invalid chars")
		fileContentBytes = bytes.ToValidUTF8(fileContentBytes, []byte(string(utf8.RuneError)))
	}

	str := string(fileContentBytes)
	for bad, good := range charReplacementMap {
		str = strings.ReplaceAll(str, bad, good)
	}

	if !utf8.ValidString(str) {
		return "", fmt.Errorf("invalid UTF-8 after replacements: %s", src)
	}
	return str, nil
}
