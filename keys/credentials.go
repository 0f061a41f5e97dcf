package keys

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CredentialEntry is one non-empty line of a credential list.
//
// Accepted line shapes (tokens separated by whitespace or commas):
//
//	<recipient>
//	<recipient> <amount>
//	<sender> <recipient>
//	<sender> <recipient> <amount>
//
// A two-token line is read as recipient and amount when its second token is
// an integer, otherwise as sender and recipient. Blank lines and lines starting
// with '#' are ignored.
type CredentialEntry struct {
	// Line is the 1-based line number in the source.
	Line int

	// Sender is the encoded sender key, or empty when the caller's default applies.
	Sender string

	// Recipient is an address or an encoded key.
	Recipient string

	// AmountUnits is the parsed amount. Only meaningful when HasAmount is set.
	AmountUnits int64
	HasAmount   bool
}

// ParseCredentialList reads entries from r. A line that does not match any
// accepted shape is a list-level error naming the line number; the line's
// content is never echoed since it may hold a secret.
func ParseCredentialList(r io.Reader) ([]CredentialEntry, error) {
	var entries []CredentialEntry

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})

		entry := CredentialEntry{Line: lineNo}
		switch len(tokens) {
		case 1:
			entry.Recipient = tokens[0]
		case 2:
			if amount, ok := parseAmountToken(tokens[1]); ok {
				entry.Recipient = tokens[0]
				entry.AmountUnits = amount
				entry.HasAmount = true
			} else if looksNumeric(tokens[1]) {
				return nil, fmt.Errorf("line %d: amount is not a valid integer", lineNo)
			} else {
				entry.Sender = tokens[0]
				entry.Recipient = tokens[1]
			}
		case 3:
			amount, ok := parseAmountToken(tokens[2])
			if !ok {
				return nil, fmt.Errorf("line %d: amount is not a valid integer", lineNo)
			}
			entry.Sender = tokens[0]
			entry.Recipient = tokens[1]
			entry.AmountUnits = amount
			entry.HasAmount = true
		default:
			return nil, fmt.Errorf("line %d: expected 1 to 3 fields, got %d", lineNo, len(tokens))
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credential list: %w", err)
	}

	return entries, nil
}

// ReadCredentialFile parses the credential list at path.
func ReadCredentialFile(path string) ([]CredentialEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential list: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ParseCredentialList(f)
	if err != nil {
		return nil, fmt.Errorf("credential list %s: %w", path, err)
	}
	return entries, nil
}

// ReadSecretLine reads the first non-empty, non-comment line from r. It is
// used for secrets passed on stdin.
func ReadSecretLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return "", fmt.Errorf("no secret found in input")
}

func parseAmountToken(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// looksNumeric catches amounts such as "1.5" or "99999999999999999999" that
// are clearly meant as amounts but do not parse.
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range strings.TrimPrefix(s, "-") {
		if (r < '0' || r > '9') && r != '.' && r != '_' {
			return false
		}
	}
	return true
}
