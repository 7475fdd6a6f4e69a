package board

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Console defaults for values a descriptor leaves empty. All prompt and
// banner values are regular expressions.
const (
	DefaultClosedBanner     = `Connection to .* closed\.`
	DefaultQuitBanner       = `Quit: Ctrl`
	DefaultBootloaderPrompt = `U-Boot>`
	DefaultLoginPrompt      = `[\w.-]+ login:`
	DefaultRootPrompt       = `root@[^:\s]*:[^#\n]*#`
	DefaultLoginUser        = "root"
	DefaultInterfaceQuery   = "ifconfig eth0"
	DefaultConsoleEscape    = "^]"
)

const bootSuffix = "_boot"

// IPMITools holds the helper commands of an IPMI-managed board.
type IPMITools struct {
	SetupScript         string `yaml:"setup_script"`
	RemoteCommandRunner string `yaml:"remote_command_runner"`
	// Address is an optional management-reachable network address used for
	// deployment and result retrieval.
	Address string `yaml:"address,omitempty"`
}

// Commands maps each boot method to its ordered bootloader command list.
// In the file a method "ramdisk" is written as key "ramdisk_boot".
type Commands struct {
	Boot map[string][]string
	IPMI *IPMITools
}

// Attributes describes console prompts and board capabilities.
type Attributes struct {
	RootPrompt       string `yaml:"root_prompt,omitempty"`
	LoginPrompt      string `yaml:"login_prompt,omitempty"`
	BootloaderPrompt string `yaml:"bootloader_prompt,omitempty"`
	ClosedBanner     string `yaml:"closed_banner,omitempty"`
	QuitBanner       string `yaml:"quit_banner,omitempty"`
	LoginUser        string `yaml:"login_user,omitempty"`
	InterfaceQuery   string `yaml:"interface_query,omitempty"`
	ConsoleEscape    string `yaml:"console_escape,omitempty"`
	HasSSH           bool   `yaml:"has_ssh"`
	IPMIManaged      bool   `yaml:"ipmi_managed"`
}

// Descriptor is the immutable definition of one board type. It is shared
// read-only by every session driving a board of that type.
type Descriptor struct {
	Type       string     `yaml:"-"`
	Commands   Commands   `yaml:"commands"`
	Attributes Attributes `yaml:"attributes"`
}

// Parse decodes a descriptor document for boardType.
func Parse(boardType string, data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse board file for %s: %w", boardType, err)
	}
	d.Type = boardType
	if d.Attributes.IPMIManaged && d.Commands.IPMI == nil {
		return nil, fmt.Errorf("board %s is ipmi_managed but has no commands.ipmi_managed block", boardType)
	}
	if !d.Attributes.IPMIManaged && len(d.Commands.Boot) == 0 {
		return nil, fmt.Errorf("board %s defines no boot commands", boardType)
	}
	return &d, nil
}

// LoadFile reads a descriptor; the board type is the file name without its
// extension.
func LoadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	return Parse(strings.TrimSuffix(base, filepath.Ext(base)), data)
}

// Marshal re-serialises the descriptor in the board file format.
func (d *Descriptor) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Methods returns the boot methods the descriptor knows, sorted.
func (d *Descriptor) Methods() []string {
	methods := make([]string, 0, len(d.Commands.Boot))
	for m := range d.Commands.Boot {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// BootCommands returns a copy of the command list for method with the image
// placeholders {IMAGE}, {DTB} and {ROOT_FS} replaced from params (keys
// kernel, dtb and rootfs). The descriptor itself is left untouched.
func (d *Descriptor) BootCommands(method string, params map[string]string) ([]string, error) {
	cmds, ok := d.Commands.Boot[method]
	if !ok {
		return nil, fmt.Errorf("board type %s has no %q boot method (have %s)",
			d.Type, method, strings.Join(d.Methods(), ", "))
	}
	replacer := strings.NewReplacer(
		"{IMAGE}", params["kernel"],
		"{DTB}", params["dtb"],
		"{ROOT_FS}", params["rootfs"],
	)
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = replacer.Replace(c)
	}
	return out, nil
}

// Prompts returns the effective console patterns with defaults applied.
func (d *Descriptor) Prompts() Prompts {
	a := d.Attributes
	return Prompts{
		Closed:     orDefault(a.ClosedBanner, DefaultClosedBanner),
		Quit:       orDefault(a.QuitBanner, DefaultQuitBanner),
		Bootloader: orDefault(a.BootloaderPrompt, DefaultBootloaderPrompt),
		Login:      orDefault(a.LoginPrompt, DefaultLoginPrompt),
		Root:       orDefault(a.RootPrompt, DefaultRootPrompt),
	}
}

// LoginUser is the identity sent at the OS login prompt.
func (d *Descriptor) LoginUser() string {
	return orDefault(d.Attributes.LoginUser, DefaultLoginUser)
}

// InterfaceQuery is the console command printing the board's address.
func (d *Descriptor) InterfaceQuery() string {
	return orDefault(d.Attributes.InterfaceQuery, DefaultInterfaceQuery)
}

// EscapeSequence returns the bytes that detach from the console. Caret
// notation such as "^]" is translated to the control character.
func (d *Descriptor) EscapeSequence() string {
	esc := orDefault(d.Attributes.ConsoleEscape, DefaultConsoleEscape)
	if len(esc) == 2 && esc[0] == '^' {
		return string(rune(esc[1] & 0x1f))
	}
	return esc
}

// Prompts is the set of console patterns the session controller waits on.
type Prompts struct {
	Closed     string
	Quit       string
	Bootloader string
	Login      string
	Root       string
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c *Commands) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: commands must be a mapping", node.Line)
	}
	c.Boot = map[string][]string{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch {
		case key == "ipmi_managed":
			var tools IPMITools
			if err := value.Decode(&tools); err != nil {
				return err
			}
			c.IPMI = &tools
		case strings.HasSuffix(key, bootSuffix):
			var cmds []string
			if err := value.Decode(&cmds); err != nil {
				return fmt.Errorf("line %d: %s: %w", value.Line, key, err)
			}
			c.Boot[strings.TrimSuffix(key, bootSuffix)] = cmds
		default:
			return fmt.Errorf("line %d: unknown command block %q", node.Content[i].Line, key)
		}
	}
	return nil
}

func (c Commands) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	methods := make([]string, 0, len(c.Boot))
	for m := range c.Boot {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		var value yaml.Node
		if err := value.Encode(c.Boot[m]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: m + bootSuffix}, &value)
	}
	if c.IPMI != nil {
		var value yaml.Node
		if err := value.Encode(c.IPMI); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "ipmi_managed"}, &value)
	}
	return node, nil
}
