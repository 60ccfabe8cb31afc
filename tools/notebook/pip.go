package notebook

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	carnet "github.com/carnetd/carnet"
)

// pipTimeout caps one install run end to end.
const pipTimeout = 300 * time.Second

// pipAllowList is the closed set of installable packages: numeric and ML
// libraries, HTTP clients, parsers, document readers, DB drivers, and CLI
// utilities. Anything else is refused before the installer runs.
var pipAllowList = map[string]bool{
	"numpy": true, "pandas": true, "scipy": true, "statsmodels": true,
	"matplotlib": true, "seaborn": true, "plotly": true, "bokeh": true,
	"altair": true, "pygal": true,
	"scikit-learn": true, "sklearn": true, "xgboost": true, "lightgbm": true,
	"catboost": true, "torch": true, "torchvision": true, "torchaudio": true,
	"tensorflow": true, "keras": true, "transformers": true, "datasets": true,
	"accelerate": true,
	"nltk":       true, "spacy": true, "gensim": true, "jieba": true, "snownlp": true,
	"pillow": true, "opencv-python": true, "opencv-python-headless": true, "imageio": true,
	"requests": true, "httpx": true, "aiohttp": true, "urllib3": true,
	"beautifulsoup4": true, "bs4": true, "lxml": true, "html5lib": true,
	"cssselect": true, "pyquery": true, "parsel": true,
	"openpyxl": true, "xlrd": true, "xlwt": true, "python-docx": true,
	"pypdf2": true, "pdfplumber": true, "python-pptx": true, "csvkit": true,
	"sqlalchemy": true, "pymysql": true, "psycopg2-binary": true,
	"redis": true, "pymongo": true,
	"tqdm":  true, "loguru": true, "rich": true, "typer": true, "click": true,
	"pydantic": true, "python-dotenv": true, "python-dateutil": true, "pytz": true,
	"sympy": true, "networkx": true, "igraph": true, "faker": true,
	"arrow": true, "pendulum": true, "humanize": true,
	"tabulate": true, "prettytable": true, "colorama": true,
}

// Installer runs an actual package install and returns its combined output.
type Installer func(ctx context.Context, packages []string) (string, error)

// PipTool installs Python packages from a fixed allow-list into the kernel
// environment. Installed packages become importable on the next execute; the
// interpreter's module cache is not refreshed.
type PipTool struct {
	session   *Session
	installer Installer
}

// PipOption configures a PipTool.
type PipOption func(*PipTool)

// WithInstaller replaces the default pip invocation; used by tests.
func WithInstaller(in Installer) PipOption {
	return func(t *PipTool) {
		if in != nil {
			t.installer = in
		}
	}
}

// NewPipTool creates the pip_install tool. pythonBin is the interpreter whose
// environment receives the packages.
func NewPipTool(s *Session, pythonBin string, opts ...PipOption) *PipTool {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	t := &PipTool{
		session:   s,
		installer: defaultInstaller(pythonBin),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ carnet.Tool = (*PipTool)(nil)

func defaultInstaller(pythonBin string) Installer {
	return func(ctx context.Context, packages []string) (string, error) {
		args := append([]string{"-m", "pip", "install", "--quiet"}, packages...)
		out, err := exec.CommandContext(ctx, pythonBin, args...).CombinedOutput()
		return string(out), err
	}
}

func (t *PipTool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "pip_install",
		Description: "Install Python packages into the notebook environment. Only packages from a fixed allow-list of common data-science and utility libraries can be installed. Requires user authorization.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"packages":{"type":"array","items":{"type":"string"},"description":"Package names, optionally with version specifiers"}},"required":["packages"]}`),
	}}
}

func (t *PipTool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	if !t.session.Authorized {
		return unauthorized("pip_install"), nil
	}

	var params struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if len(params.Packages) == 0 {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "packages is required"), nil
	}

	// The allow-list check runs before anything touches the environment: one
	// disallowed name refuses the whole request.
	var blocked []string
	for _, p := range params.Packages {
		if !pipAllowList[baseName(p)] {
			blocked = append(blocked, p)
		}
	}
	if len(blocked) > 0 {
		sort.Strings(blocked)
		return carnet.ToolResult{
			Success: false,
			Output:  fmt.Sprintf("These packages are not on the allow-list and were not installed: %s", strings.Join(blocked, ", ")),
			Error:   carnet.ErrKindPackagesDenied,
			Data:    map[string]any{"blocked": blocked},
		}, nil
	}

	installCtx, cancel := context.WithTimeout(ctx, pipTimeout)
	defer cancel()

	out, err := t.installer(installCtx, params.Packages)
	if err != nil {
		if installCtx.Err() == context.DeadlineExceeded {
			return carnet.ToolErr(carnet.ErrKindToolTimeout,
				fmt.Sprintf("install did not finish within %s", pipTimeout)), nil
		}
		return carnet.ToolErr(carnet.ErrKindToolExternal,
			fmt.Sprintf("install failed: %v\n%s", err, out)), nil
	}

	return carnet.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("Installed: %s. The packages are importable in the next execution.", strings.Join(params.Packages, ", ")),
		Data:    map[string]any{"installed": params.Packages},
	}, nil
}

// baseName strips version specifiers and extras from a requirement string:
// "pandas>=2.0" and "requests[socks]==2.31" normalize to their package name.
func baseName(requirement string) string {
	name := strings.TrimSpace(requirement)
	for _, sep := range []string{"==", ">=", "<=", "~=", "!=", ">", "<", "[", ";", "="} {
		if i := strings.Index(name, sep); i >= 0 {
			name = name[:i]
		}
	}
	return strings.ToLower(strings.TrimSpace(name))
}
