// internal/relay/translator.go
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrParse marks a segment that is not a valid command message
	ErrParse = errors.New("invalid formatted message")
	// ErrMissingField is wrapped by ParseError in strict mode
	ErrMissingField = errors.New("missing field")
)

// undefinedText is written in place of a missing field
const undefinedText = "undefined"

// Frame is the wire encoding written to the serial device: <channel>c<value>w
type Frame string

// Command is one parsed message
type Command struct {
	Channel any
	Value   any

	hasChannel bool
	hasValue   bool
}

// ParseError reports a segment that could not be turned into a command
type ParseError struct {
	Segment string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", ErrParse, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParse) match any ParseError
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Translator parses segments and encodes them as serial frames
type Translator struct {
	strict bool
}

// NewTranslator creates a translator. With strict set, a segment missing
// channel or value fails instead of encoding "undefined".
func NewTranslator(strict bool) *Translator {
	return &Translator{strict: strict}
}

// Parse decodes one segment as a JSON document
func (t *Translator) Parse(segment string) (Command, error) {
	dec := json.NewDecoder(strings.NewReader(segment))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Command{}, &ParseError{Segment: segment, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Command{}, &ParseError{Segment: segment, Err: errors.New("unexpected data after message")}
	}

	var cmd Command
	if obj, ok := doc.(map[string]any); ok {
		cmd.Channel, cmd.hasChannel = obj["channel"]
		cmd.Value, cmd.hasValue = obj["value"]
	}

	if t.strict {
		switch {
		case !cmd.hasChannel:
			return Command{}, &ParseError{Segment: segment, Err: fmt.Errorf("%w: channel", ErrMissingField)}
		case !cmd.hasValue:
			return Command{}, &ParseError{Segment: segment, Err: fmt.Errorf("%w: value", ErrMissingField)}
		}
	}
	return cmd, nil
}

// ParseAndEncode parses a segment and returns its serial frame
func (t *Translator) ParseAndEncode(segment string) (Frame, error) {
	cmd, err := t.Parse(segment)
	if err != nil {
		return "", err
	}
	return Encode(cmd), nil
}

// Encode interpolates channel and value into the frame template. The
// letters c and w are not escaped inside either field.
func Encode(cmd Command) Frame {
	channel, value := undefinedText, undefinedText
	if cmd.hasChannel {
		channel = textOf(cmd.Channel)
	}
	if cmd.hasValue {
		value = textOf(cmd.Value)
	}
	return Frame(channel + "c" + value + "w")
}

// NewCommand builds a command with both fields present
func NewCommand(channel, value any) Command {
	return Command{Channel: channel, Value: value, hasChannel: true, hasValue: true}
}

// textOf renders a decoded JSON value the way scripting clients print it
func textOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	case json.Number:
		f, _ := strconv.ParseFloat(x.String(), 64)
		return formatNumber(f)
	case float64:
		return formatNumber(x)
	case int:
		return strconv.Itoa(x)
	case []any:
		var buf bytes.Buffer
		for i, elem := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if elem != nil {
				buf.WriteString(textOf(elem))
			}
		}
		return buf.String()
	case map[string]any:
		return "[object Object]"
	default:
		return fmt.Sprint(x)
	}
}

// formatNumber prints the shortest round-tripping decimal form, switching
// to exponent notation below 1e-6 and from 1e21 up
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}

	// d.ddde±x
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expText, _ := strings.Cut(s, "e")
	exp, _ := strconv.Atoi(expText)
	digits := strings.Replace(mantissa, ".", "", 1)
	k, n := len(digits), exp+1

	switch {
	case k <= n && n <= 21:
		return sign + digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return sign + digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return sign + "0." + strings.Repeat("0", -n) + digits
	}

	out := digits[:1]
	if k > 1 {
		out += "." + digits[1:]
	}
	if n-1 >= 0 {
		return sign + out + "e+" + strconv.Itoa(n-1)
	}
	return sign + out + "e-" + strconv.Itoa(1-n)
}
