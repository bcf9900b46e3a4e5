// Package validation checks user-supplied values before they reach exec.Command
// or an outbound HTTP request.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

var shellMeta = []string{";", "&", "|", "`", "<", ">", "\n", "\r"}

// ValidateArgument rejects build arguments carrying shell metacharacters.
// Commands are never run through a shell; this keeps configuration files from
// smuggling anything that looks like one.
func ValidateArgument(arg string) error {
	for _, char := range shellMeta {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %q", char)
		}
	}
	return nil
}

// ValidateCommand validates a command name against an allowlist
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if !allowedCommands[command] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}
	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}
	return nil
}

// ValidateTargetURL validates the asset server base address.
func ValidateTargetURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("URL must have a valid hostname")
	}
	if strings.ContainsAny(rawURL, " \n\r") {
		return nil, fmt.Errorf("URL contains whitespace")
	}
	return parsed, nil
}

// ValidateURLPath validates an absolute URL path such as "/public" or
// "/public/index.html".
func ValidateURLPath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q must start with /", p)
	}
	if strings.Contains(p, "..") {
		return fmt.Errorf("path %q contains traversal", p)
	}
	if strings.ContainsAny(p, "?# \n\r") {
		return fmt.Errorf("path %q contains query, fragment, or whitespace", p)
	}
	return nil
}
