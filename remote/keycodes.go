package remote

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Keycode identifies a television key.
type Keycode int32

const (
	KeySoftLeft         Keycode = 1
	KeySoftRight        Keycode = 2
	KeyHome             Keycode = 3
	KeyBack             Keycode = 4
	KeyCall             Keycode = 5
	Key0                Keycode = 7
	Key1                Keycode = 8
	Key2                Keycode = 9
	Key3                Keycode = 10
	Key4                Keycode = 11
	Key5                Keycode = 12
	Key6                Keycode = 13
	Key7                Keycode = 14
	Key8                Keycode = 15
	Key9                Keycode = 16
	KeyStar             Keycode = 17
	KeyPound            Keycode = 18
	KeyDpadUp           Keycode = 19
	KeyDpadDown         Keycode = 20
	KeyDpadLeft         Keycode = 21
	KeyDpadRight        Keycode = 22
	KeyDpadCenter       Keycode = 23
	KeyVolumeUp         Keycode = 24
	KeyVolumeDown       Keycode = 25
	KeyPower            Keycode = 26
	KeyCamera           Keycode = 27
	KeyA                Keycode = 29
	KeyZ                Keycode = 54
	KeyComma            Keycode = 55
	KeyPeriod           Keycode = 56
	KeyAltLeft          Keycode = 57
	KeyAltRight         Keycode = 58
	KeyShiftLeft        Keycode = 59
	KeyShiftRight       Keycode = 60
	KeyTab              Keycode = 61
	KeySpace            Keycode = 62
	KeyExplorer         Keycode = 64
	KeyEnter            Keycode = 66
	KeyDel              Keycode = 67
	KeyGrave            Keycode = 68
	KeyMinus            Keycode = 69
	KeyEquals           Keycode = 70
	KeyLeftBracket      Keycode = 71
	KeyRightBracket     Keycode = 72
	KeyBackslash        Keycode = 73
	KeySemicolon        Keycode = 74
	KeyApostrophe       Keycode = 75
	KeySlash            Keycode = 76
	KeyAt               Keycode = 77
	KeyFocus            Keycode = 80
	KeyPlus             Keycode = 81
	KeyMenu             Keycode = 82
	KeySearch           Keycode = 84
	KeyMediaPlayPause   Keycode = 85
	KeyMediaStop        Keycode = 86
	KeyMediaNext        Keycode = 87
	KeyMediaPrevious    Keycode = 88
	KeyMediaRewind      Keycode = 89
	KeyMediaFastForward Keycode = 90
	KeyMute             Keycode = 91
	KeyChannelUp        Keycode = 166
	KeyChannelDown      Keycode = 167
	KeyMediaSkipForward Keycode = 272
	KeyMediaSkipBack    Keycode = 273
	// KeyMouseButton is the pointer button used by Click.
	KeyMouseButton Keycode = 1000
)

var keycodeNames = map[Keycode]string{
	KeySoftLeft:         "SOFT_LEFT",
	KeySoftRight:        "SOFT_RIGHT",
	KeyHome:             "HOME",
	KeyBack:             "BACK",
	KeyCall:             "CALL",
	KeyStar:             "STAR",
	KeyPound:            "POUND",
	KeyDpadUp:           "DPAD_UP",
	KeyDpadDown:         "DPAD_DOWN",
	KeyDpadLeft:         "DPAD_LEFT",
	KeyDpadRight:        "DPAD_RIGHT",
	KeyDpadCenter:       "DPAD_CENTER",
	KeyVolumeUp:         "VOLUME_UP",
	KeyVolumeDown:       "VOLUME_DOWN",
	KeyPower:            "POWER",
	KeyCamera:           "CAMERA",
	KeyComma:            "COMMA",
	KeyPeriod:           "PERIOD",
	KeyAltLeft:          "ALT_LEFT",
	KeyAltRight:         "ALT_RIGHT",
	KeyShiftLeft:        "SHIFT_LEFT",
	KeyShiftRight:       "SHIFT_RIGHT",
	KeyTab:              "TAB",
	KeySpace:            "SPACE",
	KeyExplorer:         "EXPLORER",
	KeyEnter:            "ENTER",
	KeyDel:              "DEL",
	KeyGrave:            "GRAVE",
	KeyMinus:            "MINUS",
	KeyEquals:           "EQUALS",
	KeyLeftBracket:      "LEFT_BRACKET",
	KeyRightBracket:     "RIGHT_BRACKET",
	KeyBackslash:        "BACKSLASH",
	KeySemicolon:        "SEMICOLON",
	KeyApostrophe:       "APOSTROPHE",
	KeySlash:            "SLASH",
	KeyAt:               "AT",
	KeyFocus:            "FOCUS",
	KeyPlus:             "PLUS",
	KeyMenu:             "MENU",
	KeySearch:           "SEARCH",
	KeyMediaPlayPause:   "MEDIA_PLAY_PAUSE",
	KeyMediaStop:        "MEDIA_STOP",
	KeyMediaNext:        "MEDIA_NEXT",
	KeyMediaPrevious:    "MEDIA_PREVIOUS",
	KeyMediaRewind:      "MEDIA_REWIND",
	KeyMediaFastForward: "MEDIA_FAST_FORWARD",
	KeyMute:             "MUTE",
	KeyChannelUp:        "CHANNEL_UP",
	KeyChannelDown:      "CHANNEL_DOWN",
	KeyMediaSkipForward: "MEDIA_SKIP_FORWARD",
	KeyMediaSkipBack:    "MEDIA_SKIP_BACK",
	KeyMouseButton:      "BTN_MOUSE",
}

var keycodesByName map[string]Keycode

func init() {
	for i := Keycode(0); i <= 9; i++ {
		keycodeNames[Key0+i] = string(rune('0' + i))
	}
	for i := Keycode(0); i <= KeyZ-KeyA; i++ {
		keycodeNames[KeyA+i] = string(rune('A' + i))
	}

	keycodesByName = make(map[string]Keycode, len(keycodeNames))
	for code, name := range keycodeNames {
		keycodesByName[name] = code
	}
}

func (k Keycode) String() string {
	if name, ok := keycodeNames[k]; ok {
		return "KEYCODE_" + name
	}
	return fmt.Sprintf("KEYCODE(%d)", int32(k))
}

// ParseKeycode accepts "KEYCODE_HOME", "home", "dpad-up" or a decimal code.
// Single digits name the digit keys.
func ParseKeycode(name string) (Keycode, error) {
	clean := strings.ToUpper(strings.TrimSpace(name))
	clean = strings.TrimPrefix(clean, "KEYCODE_")
	clean = strings.ReplaceAll(clean, "-", "_")
	if clean == "" {
		return 0, fmt.Errorf("remote: empty key name")
	}
	if code, ok := keycodesByName[clean]; ok {
		return code, nil
	}

	if numeric, err := strconv.ParseInt(clean, 10, 32); err == nil {
		return Keycode(numeric), nil
	}
	return 0, fmt.Errorf("remote: unknown key %q", name)
}

// KeyNames lists every named key, sorted.
func KeyNames() []string {
	names := make([]string, 0, len(keycodesByName))
	for name := range keycodesByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var runeKeycodes = map[rune]Keycode{
	' ':  KeySpace,
	',':  KeyComma,
	'.':  KeyPeriod,
	'\t': KeyTab,
	'\n': KeyEnter,
	'`':  KeyGrave,
	'-':  KeyMinus,
	'=':  KeyEquals,
	'[':  KeyLeftBracket,
	']':  KeyRightBracket,
	'\\': KeyBackslash,
	';':  KeySemicolon,
	'\'': KeyApostrophe,
	'/':  KeySlash,
	'@':  KeyAt,
	'+':  KeyPlus,
	'*':  KeyStar,
	'#':  KeyPound,
}

// KeyPressesForText translates text into key presses. Letters are sent
// unshifted; runes without a key are rejected.
func KeyPressesForText(text string) ([]Command, error) {
	commands := make([]Command, 0, len(text))
	for _, r := range text {
		code, ok := keycodeForRune(r)
		if !ok {
			return nil, fmt.Errorf("remote: no key for %q", r)
		}
		commands = append(commands, KeyPress{Code: code})
	}
	return commands, nil
}

func keycodeForRune(r rune) (Keycode, bool) {
	switch {
	case r >= '0' && r <= '9':
		return Key0 + Keycode(r-'0'), true
	case unicode.IsLetter(r) && unicode.ToUpper(r) >= 'A' && unicode.ToUpper(r) <= 'Z':
		return KeyA + Keycode(unicode.ToUpper(r)-'A'), true
	}
	code, ok := runeKeycodes[r]
	return code, ok
}
