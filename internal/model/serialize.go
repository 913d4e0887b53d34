package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownType is returned when a serialized item carries a type_ value
// this version does not know about. Callers should treat such items as
// coming from a newer client rather than as corrupt.
var ErrUnknownType = errors.New("unknown item type")

// TimeFormat is the timestamp layout of the serialized form: RFC3339 with
// milliseconds, always UTC.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders a Unix-millisecond timestamp in the canonical layout.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimeFormat)
}

// ParseTime parses a canonical timestamp back to Unix milliseconds.
func ParseTime(s string) (int64, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return 0, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}

// Serialize renders an item in its canonical form: an optional title line,
// an optional body, then `key: value` property lines with type_ always
// last. Encrypted items serialize a reduced property set with the cipher
// text and no title or body.
func Serialize(item *Item) (string, error) {
	if item.ID == "" {
		return "", errors.New("serializing item: missing id")
	}
	if !knownKind(item.Kind) {
		return "", fmt.Errorf("serializing item %s: %w %d", item.ID, ErrUnknownType, int(item.Kind))
	}

	var b strings.Builder
	if !item.EncryptionApplied {
		switch item.Kind {
		case KindNote:
			b.WriteString(item.Title)
			b.WriteString("\n\n")
			b.WriteString(item.Body)
			b.WriteString("\n\n")
		case KindFolder, KindResource, KindTag:
			b.WriteString(item.Title)
			b.WriteString("\n\n")
		}
	}
	for _, p := range itemProps(item) {
		b.WriteString(p.key)
		b.WriteString(": ")
		b.WriteString(escapePropValue(p.value))
		b.WriteString("\n")
	}
	b.WriteString("type_: ")
	b.WriteString(strconv.Itoa(int(item.Kind)))
	return b.String(), nil
}

type prop struct {
	key   string
	value string
}

func itemProps(item *Item) []prop {
	props := []prop{{"id", item.ID}}
	add := func(key, value string) {
		if value != "" {
			props = append(props, prop{key, value})
		}
	}

	if item.EncryptionApplied {
		props = append(props,
			prop{"created_time", FormatTime(item.CreatedTime)},
			prop{"updated_time", FormatTime(item.UpdatedTime)},
			prop{"encryption_cipher_text", item.CipherText},
			prop{"encryption_applied", "1"},
		)
		add("share_id", item.ShareID)
		return props
	}

	add("parent_id", item.ParentID)
	switch item.Kind {
	case KindNoteTag:
		add("note_id", item.NoteID)
		add("tag_id", item.TagID)
	case KindRevision:
		add("revision_item_id", item.RevisionItemID)
		add("content", item.Body)
	case KindMasterKey:
		add("content", item.Body)
	case KindResource:
		add("mime", item.Mime)
		add("filename", item.Filename)
		add("file_extension", item.FileExtension)
		props = append(props, prop{"size", strconv.FormatInt(item.Size, 10)})
	case KindNote:
		if item.TodoDue != 0 {
			props = append(props, prop{"todo_due", strconv.FormatInt(item.TodoDue, 10)})
		}
		if item.TodoCompleted != 0 {
			props = append(props, prop{"todo_completed", strconv.FormatInt(item.TodoCompleted, 10)})
		}
	}

	props = append(props,
		prop{"created_time", FormatTime(item.CreatedTime)},
		prop{"updated_time", FormatTime(item.UpdatedTime)},
	)
	if item.UserCreatedTime != 0 {
		props = append(props, prop{"user_created_time", FormatTime(item.UserCreatedTime)})
	}
	if item.UserUpdatedTime != 0 {
		props = append(props, prop{"user_updated_time", FormatTime(item.UserUpdatedTime)})
	}
	props = append(props, prop{"encryption_applied", "0"})
	add("share_id", item.ShareID)
	return props
}

// Unserialize parses the canonical form back into an Item. Property lines
// are collected from the bottom up; whatever precedes them is the title
// and body for kinds that have them. Missing user times default to the
// item times.
func Unserialize(raw string) (*Item, error) {
	lines := strings.Split(raw, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	propStart := len(lines)
	for propStart > 0 {
		if _, _, ok := parsePropLine(lines[propStart-1]); !ok {
			break
		}
		propStart--
	}
	if propStart == len(lines) {
		return nil, errors.New("unserializing item: no properties found")
	}

	props := make(map[string]string, len(lines)-propStart)
	for _, line := range lines[propStart:] {
		key, value, _ := parsePropLine(line)
		props[key] = unescapePropValue(value)
	}

	typeValue, ok := props["type_"]
	if !ok {
		return nil, errors.New("unserializing item: missing type_ property")
	}
	typeInt, err := strconv.Atoi(typeValue)
	if err != nil {
		return nil, fmt.Errorf("unserializing item: invalid type_ %q", typeValue)
	}
	kind := Kind(typeInt)
	if !knownKind(kind) {
		return nil, fmt.Errorf("unserializing item: %w %d", ErrUnknownType, typeInt)
	}

	item := &Item{Kind: kind}
	for key, value := range props {
		if err := setItemProp(item, key, value); err != nil {
			return nil, fmt.Errorf("unserializing item: %w", err)
		}
	}

	head := lines[:propStart]
	for len(head) > 0 && head[len(head)-1] == "" {
		head = head[:len(head)-1]
	}
	if !item.EncryptionApplied {
		switch kind {
		case KindNote:
			if len(head) > 0 {
				item.Title = head[0]
			}
			if len(head) > 2 {
				item.Body = strings.Join(head[2:], "\n")
			}
		case KindFolder, KindResource, KindTag:
			if len(head) > 0 {
				item.Title = head[0]
			}
		}
	}

	if item.UserCreatedTime == 0 {
		item.UserCreatedTime = item.CreatedTime
	}
	if item.UserUpdatedTime == 0 {
		item.UserUpdatedTime = item.UpdatedTime
	}
	return item, nil
}

func setItemProp(item *Item, key, value string) error {
	var err error
	switch key {
	case "id":
		item.ID = value
	case "parent_id":
		item.ParentID = value
	case "note_id":
		item.NoteID = value
	case "tag_id":
		item.TagID = value
	case "revision_item_id":
		item.RevisionItemID = value
	case "content":
		item.Body = value
	case "mime":
		item.Mime = value
	case "filename":
		item.Filename = value
	case "file_extension":
		item.FileExtension = value
	case "share_id":
		item.ShareID = value
	case "size":
		item.Size, err = strconv.ParseInt(value, 10, 64)
	case "todo_due":
		item.TodoDue, err = strconv.ParseInt(value, 10, 64)
	case "todo_completed":
		item.TodoCompleted, err = strconv.ParseInt(value, 10, 64)
	case "created_time":
		item.CreatedTime, err = ParseTime(value)
	case "updated_time":
		item.UpdatedTime, err = ParseTime(value)
	case "user_created_time":
		item.UserCreatedTime, err = ParseTime(value)
	case "user_updated_time":
		item.UserUpdatedTime, err = ParseTime(value)
	case "encryption_applied":
		item.EncryptionApplied = value == "1"
	case "encryption_cipher_text":
		item.CipherText = value
	case "type_":
		// already consumed
	default:
		// properties from newer clients are ignored
	}
	if err != nil {
		return fmt.Errorf("parsing property %s: %w", key, err)
	}
	return nil
}

func parsePropLine(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(line, ": ")
	if !ok || key == "" {
		return "", "", false
	}
	for _, r := range key {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return "", "", false
		}
	}
	return key, value, true
}

func knownKind(k Kind) bool {
	return k >= KindNote && k <= KindMasterKey
}

func escapePropValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func unescapePropValue(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
