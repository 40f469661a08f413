package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

// formKind distinguishes the tunnel-settings editor from the add-service form.
type formKind int

const (
	formTunnel formKind = iota
	formService
)

// Field indices for the tunnel settings form.
const (
	tfProxyAddr = iota
	tfJumpHost
	tfLocalPort
	tfClientPath
	tfCount
)

// Field indices for the add-service form.
const (
	sfName = iota
	sfLabel
	sfPort
	sfCategory
	sfDescription
	sfCount
)

// formResult carries a completed form back to the dashboard; exactly one
// pointer is set.
type formResult struct {
	tunnel  *appconfig.TunnelConfig
	service *model.ManagedService
}

type settingsForm struct {
	kind     formKind
	fields   []textinput.Model
	focusIdx int
	errMsg   string
}

func newTunnelForm(cur appconfig.TunnelConfig) *settingsForm {
	f := &settingsForm{kind: formTunnel}
	placeholders := []string{
		"proxy.example.com:443 (required)",
		"jump.example.com (required)",
		"1080 (local SOCKS port)",
		"tsh (client binary path)",
	}
	values := []string{cur.ProxyAddr, cur.JumpHost, cur.LocalPort, cur.ClientPath}
	f.fields = make([]textinput.Model, tfCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.SetValue(values[i])
		ti.CharLimit = 256
		ti.Width = 40
		f.fields[i] = ti
	}
	f.fields[0].Focus()
	return f
}

// newServiceForm builds the add-service form; seed pre-fills fields when a
// discovered candidate is being promoted to a managed service.
func newServiceForm(seed *model.ManagedService) *settingsForm {
	f := &settingsForm{kind: formService}
	placeholders := []string{
		"Postgres (display name, required)",
		"homebrew.mxcl.postgresql (launchd label, required)",
		"5432 (required)",
		"database (proxy|tunnel|database|development|general)",
		"local dev database (optional)",
	}
	limits := []int{64, 256, 6, 16, 256}
	f.fields = make([]textinput.Model, sfCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = limits[i]
		ti.Width = 40
		f.fields[i] = ti
	}
	if seed != nil {
		f.fields[sfName].SetValue(seed.Name)
		f.fields[sfLabel].SetValue(seed.Label)
		if seed.Port > 0 {
			f.fields[sfPort].SetValue(fmt.Sprintf("%d", seed.Port))
		}
		f.fields[sfCategory].SetValue(string(seed.Category))
		f.fields[sfDescription].SetValue(seed.Description)
	}
	f.fields[0].Focus()
	return f
}

func (f *settingsForm) count() int {
	return len(f.fields)
}

// update processes a key message and returns a formResult when complete.
func (f *settingsForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" {
			f.focusIdx = (f.focusIdx + 1) % f.count()
		} else {
			f.focusIdx = (f.focusIdx - 1 + f.count()) % f.count()
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "enter":
		res, err := f.build()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return res, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *settingsForm) build() (*formResult, error) {
	if f.kind == formTunnel {
		cfg := appconfig.TunnelConfig{
			ProxyAddr:  strings.TrimSpace(f.fields[tfProxyAddr].Value()),
			JumpHost:   strings.TrimSpace(f.fields[tfJumpHost].Value()),
			LocalPort:  strings.TrimSpace(f.fields[tfLocalPort].Value()),
			ClientPath: strings.TrimSpace(f.fields[tfClientPath].Value()),
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &formResult{tunnel: &cfg}, nil
	}

	name := strings.TrimSpace(f.fields[sfName].Value())
	label := strings.TrimSpace(f.fields[sfLabel].Value())
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if label == "" {
		return nil, fmt.Errorf("label is required")
	}
	port, err := util.ParsePort(strings.TrimSpace(f.fields[sfPort].Value()))
	if err != nil {
		return nil, err
	}
	svc := model.ManagedService{
		Name:        name,
		Label:       label,
		Port:        port,
		Category:    model.ParseCategory(f.fields[sfCategory].Value()),
		Description: strings.TrimSpace(f.fields[sfDescription].Value()),
		Enabled:     true,
	}
	return &formResult{service: &svc}, nil
}

// view renders the form panel.
func (f *settingsForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	accent := lipgloss.Color("214")
	title := "Tunnel Settings"
	labels := []string{"Proxy address:", "Jump host:", "Local port:", "Client path:"}
	if f.kind == formService {
		title = "Add Service"
		labels = []string{"Name:", "Label:", "Port:", "Category:", "Description:"}
	}

	var b strings.Builder
	for i, label := range labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-16s %s\n", cursor, label, f.fields[i].View()))
	}
	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}
	b.WriteString("\nTab/Shift-Tab navigate | Enter submit | Esc cancel")
	return renderPanel(title, b.String(), width, accent)
}
