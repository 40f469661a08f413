package ui

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/events"
	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/history"
	"github.com/tunnelbar/tunnelbar/internal/httpproxy"
	"github.com/tunnelbar/tunnelbar/internal/launchd"
	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/ports"
	"github.com/tunnelbar/tunnelbar/internal/supervisor"
	"github.com/tunnelbar/tunnelbar/internal/tshclient"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

type tickMsg time.Time

type statusMsg string

type statusesMsg map[string]model.ServiceStatus

type slotsMsg struct {
	tunnel model.SlotRuntime
	proxy  model.SlotRuntime
}

// Deps are the long-lived collaborators the dashboard drives. Built once in
// Run; tests construct them with fakes.
type Deps struct {
	Prober     *launchd.Prober
	Controller *launchd.Controller
	Tunnel     *supervisor.TunnelSupervisor
	Proxy      *supervisor.ProxySupervisor
	ClientPath string
	ProxyAddr  string
}

type modelUI struct {
	cfg        appconfig.Config
	services   []model.ManagedService
	filtered   []model.ManagedService
	statuses   map[string]model.ServiceStatus
	tunnelRT   model.SlotRuntime
	proxyRT    model.SlotRuntime
	sel        int
	filter     string
	filterMode bool
	showHelp   bool
	status     string
	width      int
	height     int
	form       *settingsForm
	deps       Deps
}

func initialModel(cfg appconfig.Config, deps Deps) modelUI {
	m := modelUI{cfg: cfg, deps: deps, statuses: map[string]model.ServiceStatus{}}
	m.reloadServices()
	m.status = "Ready. j/k selects a service; s/x/r control it; t and p toggle the tunnel and proxy slots."
	return m
}

// reloadServices re-reads the service list from config and orders it by
// recent use, then category, then name.
func (m *modelUI) reloadServices() {
	last, _ := history.LastStarted()
	m.services = history.SortServicesRecent(m.cfg.Services, last)
	m.applyFilter()
}

func (m *modelUI) applyFilter() {
	if strings.TrimSpace(m.filter) == "" {
		m.filtered = append([]model.ManagedService(nil), m.services...)
	} else {
		f := strings.ToLower(strings.TrimSpace(m.filter))
		m.filtered = nil
		for _, svc := range m.services {
			if strings.Contains(strings.ToLower(svc.Name), f) || strings.Contains(strings.ToLower(svc.Label), f) {
				m.filtered = append(m.filtered, svc)
			}
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func tickCmd(seconds int) tea.Cmd {
	if seconds <= 0 {
		seconds = util.DefaultRefreshSeconds
	}
	return tea.Tick(time.Duration(seconds)*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m modelUI) probeCmd() tea.Cmd {
	svcs := append([]model.ManagedService(nil), m.services...)
	prober := m.deps.Prober
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), util.StatusProbeTimeout+time.Second)
		defer cancel()
		return statusesMsg(prober.ProbeAll(ctx, svcs))
	}
}

func (m modelUI) slotsCmd() tea.Cmd {
	tun, prox := m.deps.Tunnel, m.deps.Proxy
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return slotsMsg{tunnel: tun.Runtime(ctx), proxy: prox.Runtime(ctx)}
	}
}

func (m modelUI) serviceCmd(verb string, svc model.ManagedService) tea.Cmd {
	ctrl := m.deps.Controller
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var err error
		switch verb {
		case "start":
			err = ctrl.Start(ctx, svc)
			if err == nil {
				_ = history.Touch(svc.Label)
			}
		case "stop":
			err = ctrl.Stop(ctx, svc)
		case "restart":
			err = ctrl.Restart(ctx, svc)
			if err == nil {
				_ = history.Touch(svc.Label)
			}
		}
		if err != nil {
			return statusMsg(fmt.Sprintf("%s %s: %v", verb, svc.Name, err))
		}
		return statusMsg(fmt.Sprintf("%s %s: ok", verb, svc.Name))
	}
}

// slotToggleCmd starts an idle slot and stops any other state. The start
// path can sit in the credential retry loop for a while, so it runs as an
// async command and reports back through the status line.
func slotToggleCmd(name string, rt model.SlotRuntime, start, stop func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		if rt.State == model.SlotIdle {
			if err := start(ctx); err != nil {
				return statusMsg(name + " start: " + err.Error())
			}
			return statusMsg(name + " started")
		}
		if err := stop(ctx); err != nil {
			return statusMsg(name + " stop: " + err.Error())
		}
		return statusMsg(name + " stopped")
	}
}

func (m modelUI) Init() tea.Cmd {
	return tea.Batch(tickCmd(m.cfg.UI.RefreshSeconds), m.probeCmd(), m.slotsCmd())
}

func (m modelUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tea.Batch(tickCmd(m.cfg.UI.RefreshSeconds), m.probeCmd(), m.slotsCmd())
	case statusesMsg:
		m.statuses = msg
		return m, nil
	case slotsMsg:
		m.tunnelRT = msg.tunnel
		m.proxyRT = msg.proxy
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, m.slotsCmd()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m modelUI) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form != nil {
		if msg.String() == "esc" {
			m.form = nil
			m.status = "Cancelled"
			return m, nil
		}
		res, cmd := m.form.update(msg)
		if res != nil {
			m.form = nil
			m.applyFormResult(*res)
			return m, m.probeCmd()
		}
		return m, cmd
	}

	if m.filterMode {
		switch msg.String() {
		case "enter", "esc":
			m.filterMode = false
			m.applyFilter()
			return m, nil
		case "backspace":
			if len(m.filter) > 0 {
				m.filter = m.filter[:len(m.filter)-1]
			}
			m.applyFilter()
			return m, nil
		default:
			if len(msg.String()) == 1 {
				m.filter += msg.String()
				m.applyFilter()
			}
			return m, nil
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "j", "down":
		if m.sel < len(m.filtered)-1 {
			m.sel++
		}
	case "k", "up":
		if m.sel > 0 {
			m.sel--
		}
	case "/":
		m.filterMode = true
		m.status = "Filter mode: type and press Enter"
	case "?":
		m.showHelp = !m.showHelp
	case "R":
		cfg, err := appconfig.Load()
		if err != nil {
			m.status = "config reload failed: " + err.Error()
			break
		}
		m.cfg = cfg
		m.reloadServices()
		m.status = "Config reloaded"
		return m, m.probeCmd()
	case "s", "enter":
		if svc, ok := m.selected(); ok {
			m.status = "Starting " + svc.Name + "..."
			return m, m.serviceCmd("start", svc)
		}
	case "x":
		if svc, ok := m.selected(); ok {
			m.status = "Stopping " + svc.Name + "..."
			return m, m.serviceCmd("stop", svc)
		}
	case "r":
		if svc, ok := m.selected(); ok {
			m.status = "Restarting " + svc.Name + "..."
			return m, m.serviceCmd("restart", svc)
		}
	case "t":
		m.status = "Tunnel: working..."
		return m, slotToggleCmd("tunnel", m.tunnelRT, m.deps.Tunnel.Start, m.deps.Tunnel.Stop)
	case "p":
		m.status = "HTTP proxy: working..."
		return m, slotToggleCmd("http proxy", m.proxyRT, m.deps.Proxy.Start, m.deps.Proxy.Stop)
	case "l":
		cmd := exec.Command(m.deps.ClientPath, "login", "--proxy", m.deps.ProxyAddr)
		return m, tea.ExecProcess(cmd, func(err error) tea.Msg {
			if err != nil {
				return statusMsg("login exited: " + err.Error())
			}
			return statusMsg("login completed")
		})
	case "a":
		m.form = newServiceForm(nil)
	case "e":
		m.form = newTunnelForm(m.cfg.Tunnel)
	}
	return m, nil
}

func (m modelUI) selected() (model.ManagedService, bool) {
	if len(m.filtered) == 0 {
		return model.ManagedService{}, false
	}
	return m.filtered[m.sel], true
}

// applyFormResult persists a completed form back into config.yaml.
func (m *modelUI) applyFormResult(res formResult) {
	switch {
	case res.tunnel != nil:
		m.cfg.Tunnel = *res.tunnel
		if err := appconfig.Save(m.cfg); err != nil {
			m.status = "save failed: " + err.Error()
			return
		}
		m.status = "Tunnel settings saved; they apply on the next tunnel start"
	case res.service != nil:
		added, err := m.cfg.AddService(*res.service)
		if err != nil {
			m.status = "add service: " + err.Error()
			return
		}
		if err := appconfig.Save(m.cfg); err != nil {
			m.status = "save failed: " + err.Error()
			return
		}
		m.reloadServices()
		m.status = "Added service " + added.Name
	}
}

func (m modelUI) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("tunnelbar")
	subhead := fmt.Sprintf("services=%d shown=%d refresh=%ds", len(m.services), len(m.filtered), clampRefresh(m.cfg.UI.RefreshSeconds))

	if m.form != nil {
		return lipgloss.JoinVertical(lipgloss.Left, head, m.form.view(m.renderPanel, m.effectiveWidth()))
	}

	slots := strings.Builder{}
	slots.WriteString(fmt.Sprintf("%-12s %-20s %-8s %-10s %s\n", "SLOT", "STATE", "PID", "UPTIME", "LAST ERROR"))
	slots.WriteString(slotRow("tunnel", m.tunnelRT))
	slots.WriteString(slotRow("http-proxy", m.proxyRT))

	svcs := strings.Builder{}
	svcs.WriteString(fmt.Sprintf("  %-22s %-12s %-11s %-8s %s\n", "SERVICE", "CATEGORY", "STATUS", "PID", "LABEL"))
	for i, svc := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		st, ok := m.statuses[svc.ID]
		if !ok {
			st = model.UnknownStatus()
		}
		pid := "-"
		if st.PID > 0 {
			pid = fmt.Sprintf("%d", st.PID)
		}
		svcs.WriteString(fmt.Sprintf("%s %-22s %-12s %-11s %-8s %s\n", cursor, svc.Name, svc.Category, st, pid, svc.Label))
	}
	if len(m.filtered) == 0 {
		svcs.WriteString("  (no services matched; press a to add one)\n")
	}

	filterLine := "Filter: " + m.filter
	if m.filterMode {
		filterLine += " (typing...)"
	}
	quickHelp := "Keys: s start | x stop | r restart | t tunnel | p proxy | l login | a add | e settings | / filter | ? help | q quit"

	help := ""
	if m.showHelp {
		help = m.renderPanel("Help", m.helpBlock(), m.effectiveWidth(), lipgloss.Color("244"))
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		filterLine,
		quickHelp,
		m.renderPanel("Slots", slots.String(), m.effectiveWidth(), lipgloss.Color("63")),
		m.renderPanel("Services", svcs.String(), m.effectiveWidth(), lipgloss.Color("39")),
		help,
		m.renderPanel("Status", m.status, m.effectiveWidth(), lipgloss.Color("205")),
	)
}

func slotRow(name string, rt model.SlotRuntime) string {
	pid := "-"
	if rt.PID > 0 {
		pid = fmt.Sprintf("%d", rt.PID)
	}
	uptime := "-"
	if rt.UptimeSec > 0 {
		uptime = (time.Duration(rt.UptimeSec) * time.Second).String()
	}
	state := string(rt.State)
	if state == "" {
		state = string(model.SlotIdle)
	}
	return fmt.Sprintf("%-12s %-20s %-8s %-10s %s\n", name, state, pid, uptime, util.EmptyDash(rt.LastError))
}

func (m modelUI) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move the service selection.",
		"  Services: s starts, x stops, r restarts the selected launchd service.",
		"  Slots: t toggles the SOCKS tunnel, p toggles the local HTTP proxy.",
		"  Login: l runs the interactive remote-access login in the terminal.",
		"  Config: a adds a service, e edits tunnel settings, R reloads config.yaml.",
		"  Filtering: press /, type name/label text, then Enter.",
		"  Quit: q or Ctrl+C; running slots are shut down on exit.",
	}, "\n")
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

func (m modelUI) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m modelUI) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}

// Run builds the full supervision stack and drives the dashboard until the
// user quits; both slots are stopped on the way out.
func Run() error {
	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}

	runner := execx.System()
	journal := events.NewStore()
	client := tshclient.New(cfg.Tunnel.ClientPath)
	// The dashboard has no modal prompt, so an unexpected port conflict is
	// declined; the cancellation carries the owning pids into the status
	// line so the user can resolve it (or turn on kill_existing).
	decider := ports.DeciderFunc(func(port int, pids []int) bool {
		slog.Warn("port conflict declined", "port", port, "pids", pids)
		return false
	})
	guard := ports.NewGuard(runner, cfg.Contention.KillExisting, cfg.Contention.StrictInspection, decider)

	tun := supervisor.NewTunnelSupervisor(client, guard,
		func() appconfig.TunnelConfig {
			c, err := appconfig.Load()
			if err != nil {
				return cfg.Tunnel
			}
			return c.Tunnel
		}, nil, journal)
	prox := supervisor.NewProxySupervisor(httpproxy.New(cfg.HTTPProxy.BinaryPath), guard,
		func() appconfig.HTTPProxyConfig {
			c, err := appconfig.Load()
			if err != nil {
				return cfg.HTTPProxy
			}
			return c.HTTPProxy
		}, nil, journal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tun.Run(ctx)
	go prox.Run(ctx)

	deps := Deps{
		Prober:     launchd.NewProber(runner),
		Controller: launchd.NewController(runner),
		Tunnel:     tun,
		Proxy:      prox,
		ClientPath: cfg.Tunnel.ClientPath,
		ProxyAddr:  cfg.Tunnel.ProxyAddr,
	}

	p := tea.NewProgram(initialModel(cfg, deps), tea.WithAltScreen())
	_, runErr := p.Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = tun.Stop(stopCtx)
	_ = prox.Stop(stopCtx)
	return runErr
}
