package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	errPlaceholder = errors.New("f-string has placeholders")
	errNamedEscape = errors.New(`\N{...} escapes are not supported`)
	errSurrogate   = errors.New("lone surrogate has no UTF-8 encoding")
)

// stringLiteral is one decoded Python string token.
type stringLiteral struct {
	Value   string
	Bytes   bool
	Raw     bool
	Format  bool
	Unicode bool
}

// decodeStringLiteral decodes a single Python string token, prefix and
// quotes included. F-strings decode only when they contain no
// placeholders.
func decodeStringLiteral(token string) (stringLiteral, error) {
	var lit stringLiteral

	i := 0
	for i < len(token) && token[i] != '\'' && token[i] != '"' {
		switch token[i] {
		case 'r', 'R':
			lit.Raw = true
		case 'b', 'B':
			lit.Bytes = true
		case 'f', 'F':
			lit.Format = true
		case 'u', 'U':
			lit.Unicode = true
		default:
			return lit, fmt.Errorf("unknown string prefix %q", token[:i+1])
		}
		i++
	}
	if i == len(token) {
		return lit, fmt.Errorf("missing quote in %q", token)
	}
	if lit.Bytes && lit.Format {
		return lit, errors.New("bytes cannot be f-strings")
	}

	quote := token[i : i+1]
	if strings.HasPrefix(token[i:], strings.Repeat(quote, 3)) && len(token)-i >= 6 {
		quote = strings.Repeat(quote, 3)
	}
	rest := token[i:]
	if !strings.HasPrefix(rest, quote) || !strings.HasSuffix(rest, quote) || len(rest) < 2*len(quote) {
		return lit, fmt.Errorf("unterminated string %q", token)
	}
	body := rest[len(quote) : len(rest)-len(quote)]

	if lit.Format {
		var err error
		if body, err = unbraceFormat(body); err != nil {
			return lit, err
		}
	}

	if lit.Raw {
		lit.Value = body
		return lit, nil
	}

	value, err := unescape(body, lit.Bytes)
	if err != nil {
		return lit, err
	}
	lit.Value = value
	return lit, nil
}

// unbraceFormat turns {{ and }} into literal braces and rejects any
// replacement field.
func unbraceFormat(body string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '{' || c == '}' {
			if i+1 < len(body) && body[i+1] == c {
				sb.WriteByte(c)
				i++
				continue
			}
			return "", errPlaceholder
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

// unescape processes backslash escapes. In bytes mode \x and octal escapes
// produce raw bytes and \u, \U and \N are left as-is.
func unescape(body string, bytesMode bool) (string, error) {
	if !strings.Contains(body, `\`) {
		return body, nil
	}

	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 == len(body) {
			sb.WriteByte(c)
			continue
		}
		i++
		c = body[i]
		switch c {
		case '\n':
			// line continuation
		case '\r':
			if i+1 < len(body) && body[i+1] == '\n' {
				i++
			}
		case '\\', '\'', '"':
			sb.WriteByte(c)
		case 'a':
			sb.WriteByte('\a')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'v':
			sb.WriteByte('\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(body) && j < i+3 && body[j] >= '0' && body[j] <= '7' {
				j++
			}
			n, _ := strconv.ParseUint(body[i:j], 8, 32)
			if bytesMode {
				sb.WriteByte(byte(n))
			} else {
				sb.WriteRune(rune(n))
			}
			i = j - 1
		case 'x':
			n, err := hexEscape(body, i+1, 2)
			if err != nil {
				return "", err
			}
			if bytesMode {
				sb.WriteByte(byte(n))
			} else {
				sb.WriteRune(rune(n))
			}
			i += 2
		case 'u', 'U':
			if bytesMode {
				sb.WriteByte('\\')
				sb.WriteByte(c)
				continue
			}
			width := 4
			if c == 'U' {
				width = 8
			}
			n, err := hexEscape(body, i+1, width)
			if err != nil {
				return "", err
			}
			if n > utf8.MaxRune {
				return "", fmt.Errorf("escape \\%c%s out of range", c, body[i+1:i+1+width])
			}
			if n >= 0xD800 && n <= 0xDFFF {
				return "", errSurrogate
			}
			sb.WriteRune(rune(n))
			i += width
		case 'N':
			if bytesMode {
				sb.WriteString(`\N`)
				continue
			}
			return "", errNamedEscape
		default:
			sb.WriteByte('\\')
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

func hexEscape(body string, start, width int) (uint64, error) {
	if start+width > len(body) {
		return 0, fmt.Errorf("truncated escape in %q", body)
	}
	n, err := strconv.ParseUint(body[start:start+width], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad escape %q", body[start:start+width])
	}
	return n, nil
}
