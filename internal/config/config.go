package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/akamensky/argparse"
	"gopkg.in/yaml.v3"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
	"github.com/rtm0/ehfheatwaves/internal/ehf"
)

// Config holds all run settings. Values come from built-in defaults, then an
// optional YAML file, then the command line.
type Config struct {
	TmaxFile string `yaml:"tmax"`
	TmaxVar  string `yaml:"vnamex"`
	TminFile string `yaml:"tmin"`
	TminVar  string `yaml:"vnamen"`
	MaskFile string `yaml:"mask"`
	MaskVar  string `yaml:"vnamem"`

	Season         string  `yaml:"season"`
	Percentile     float64 `yaml:"percentile"`
	BasePeriod     string  `yaml:"base"`
	QuantileMethod string  `yaml:"qmethod"`
	Daily          bool    `yaml:"daily"`
	DailyOnly      bool    `yaml:"dailyonly"`
	OutDir         string  `yaml:"outdir"`

	Concurrency int    `yaml:"concurrency"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	HTTPAddr    string `yaml:"http_addr"`
	Progress    bool   `yaml:"progress"`

	VMInsertURL    string   `yaml:"vm_insert_url"`
	VMMetricPrefix string   `yaml:"vm_metric_prefix"`
	RecsPerInsert  int      `yaml:"recs_per_insert"`
	KafkaBrokers   []string `yaml:"kafka_brokers"`
	KafkaTopic     string   `yaml:"kafka_topic"`
	MySQLDSN       string   `yaml:"mysql_dsn"`
	MySQLTable     string   `yaml:"mysql_table"`
}

// Defaults returns the built-in settings. The MySQL DSN defaults to the
// EHF_MYSQL_DSN environment variable.
func Defaults() Config {
	return Config{
		TmaxVar:        "tasmax",
		TminVar:        "tasmin",
		MaskVar:        "sftlf",
		Season:         calendar.Summer.String(),
		Percentile:     90,
		BasePeriod:     "1961-1990",
		QuantileMethod: ehf.Climpact.String(),
		OutDir:         ".",
		Concurrency:    runtime.NumCPU(),
		LogLevel:       "info",
		LogFormat:      "text",
		VMMetricPrefix: "ehf",
		RecsPerInsert:  500,
		KafkaTopic:     "ehf-heatwaves",
		MySQLDSN:       os.Getenv("EHF_MYSQL_DSN"),
		MySQLTable:     "ehf_heatwaves",
	}
}

// LoadFile overlays the YAML document at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// configPath finds the value of --config in args without parsing the rest.
func configPath(args []string) string {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// Parse builds the configuration from the command line. args[0] is the
// program name. The returned string is the usage text, set whenever parsing
// fails.
func Parse(args []string) (*Config, string, error) {
	cfg := Defaults()
	if path := configPath(args); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return nil, "", err
		}
	}

	parser := argparse.NewParser("ehfheatwaves", "Computes Excess Heat Factor heatwave events and seasonal heatwave metrics")

	parser.String("", "config", &argparse.Options{
		Help: "YAML file with default settings"})
	tmax := parser.String("x", "tmax", &argparse.Options{
		Default: cfg.TmaxFile,
		Help:    "daily maximum temperature file or glob pattern"})
	tmaxVar := parser.String("", "vnamex", &argparse.Options{
		Default: cfg.TmaxVar,
		Help:    "daily maximum temperature variable name"})
	tmin := parser.String("n", "tmin", &argparse.Options{
		Default: cfg.TminFile,
		Help:    "daily minimum temperature file or glob pattern"})
	tminVar := parser.String("", "vnamen", &argparse.Options{
		Default: cfg.TminVar,
		Help:    "daily minimum temperature variable name"})
	mask := parser.String("m", "mask", &argparse.Options{
		Default: cfg.MaskFile,
		Help:    "land-sea mask file"})
	maskVar := parser.String("", "vnamem", &argparse.Options{
		Default: cfg.MaskVar,
		Help:    "mask variable name"})
	season := parser.Selector("s", "season", []string{"summer", "winter"}, &argparse.Options{
		Default: cfg.Season,
		Help:    "austral season"})
	pct := parser.Float("p", "percentile", &argparse.Options{
		Default: cfg.Percentile,
		Help:    "threshold percentile"})
	base := parser.String("", "base", &argparse.Options{
		Default: cfg.BasePeriod,
		Help:    "base period, YYYY-YYYY"})
	method := parser.Selector("q", "qmethod", ehf.MethodNames(), &argparse.Options{
		Default: cfg.QuantileMethod,
		Help:    "quantile interpolation method"})
	daily := parser.Flag("d", "daily", &argparse.Options{
		Default: cfg.Daily,
		Help:    "write daily EHF, event and duration output"})
	dailyOnly := parser.Flag("", "dailyonly", &argparse.Options{
		Default: cfg.DailyOnly,
		Help:    "write only the daily output"})
	outDir := parser.String("o", "outdir", &argparse.Options{
		Default: cfg.OutDir,
		Help:    "output directory"})
	concurrency := parser.Int("", "concurrency", &argparse.Options{
		Default: cfg.Concurrency,
		Help:    "number of worker goroutines and concurrent publish requests"})
	logLevel := parser.Selector("", "log_level", []string{"debug", "info", "warn", "error"}, &argparse.Options{
		Default: cfg.LogLevel,
		Help:    "log level"})
	logFormat := parser.Selector("", "log_format", []string{"text", "json"}, &argparse.Options{
		Default: cfg.LogFormat,
		Help:    "log format"})
	httpAddr := parser.String("", "http_addr", &argparse.Options{
		Default: cfg.HTTPAddr,
		Help:    "address for /healthz, /readyz and /metrics; empty disables the server"})
	progress := parser.Flag("", "progress", &argparse.Options{
		Default: cfg.Progress,
		Help:    "show progress bars"})
	vmURL := parser.String("", "vm_insert_url", &argparse.Options{
		Default: cfg.VMInsertURL,
		Help:    "Victoria Metrics insert API URL, e.g. http://localhost:8428/write"})
	vmPrefix := parser.String("", "vm_metric_prefix", &argparse.Options{
		Default: cfg.VMMetricPrefix,
		Help:    "metric name prefix"})
	recsPerInsert := parser.Int("", "recs_per_insert", &argparse.Options{
		Default: cfg.RecsPerInsert,
		Help:    "number of records published in one batch"})
	brokers := parser.String("", "kafka_brokers", &argparse.Options{
		Default: strings.Join(cfg.KafkaBrokers, ","),
		Help:    "comma-separated Kafka brokers; empty disables Kafka"})
	topic := parser.String("", "kafka_topic", &argparse.Options{
		Default: cfg.KafkaTopic,
		Help:    "Kafka topic"})
	dsn := parser.String("", "mysql_dsn", &argparse.Options{
		Default: cfg.MySQLDSN,
		Help:    "MySQL/MariaDB DSN or mysql:// URL; empty disables the SQL sink"})
	table := parser.String("", "mysql_table", &argparse.Options{
		Default: cfg.MySQLTable,
		Help:    "MySQL table"})

	if err := parser.Parse(args); err != nil {
		return nil, parser.Usage(err), err
	}

	cfg = Config{
		TmaxFile:       *tmax,
		TmaxVar:        *tmaxVar,
		TminFile:       *tmin,
		TminVar:        *tminVar,
		MaskFile:       *mask,
		MaskVar:        *maskVar,
		Season:         *season,
		Percentile:     *pct,
		BasePeriod:     *base,
		QuantileMethod: *method,
		Daily:          *daily,
		DailyOnly:      *dailyOnly,
		OutDir:         *outDir,
		Concurrency:    *concurrency,
		LogLevel:       *logLevel,
		LogFormat:      *logFormat,
		HTTPAddr:       *httpAddr,
		Progress:       *progress,
		VMInsertURL:    *vmURL,
		VMMetricPrefix: *vmPrefix,
		RecsPerInsert:  *recsPerInsert,
		KafkaBrokers:   ParseBrokers(*brokers),
		KafkaTopic:     *topic,
		MySQLDSN:       *dsn,
		MySQLTable:     *table,
	}
	if err := cfg.Validate(); err != nil {
		return nil, parser.Usage(err), err
	}
	return &cfg, "", nil
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate rejects inconsistent settings before any data is read.
func (c *Config) Validate() error {
	if c.TmaxFile == "" || c.TminFile == "" {
		return errors.New("both --tmax and --tmin are required")
	}
	if _, _, err := c.BaseYears(); err != nil {
		return err
	}
	if _, err := ehf.ParseMethod(c.QuantileMethod); err != nil {
		return err
	}
	if _, err := calendar.ParseSeason(c.Season); err != nil {
		return err
	}
	if !(c.Percentile > 0 && c.Percentile < 100) {
		return fmt.Errorf("%w: got %v", ehf.ErrPercentile, c.Percentile)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1; got %d", c.Concurrency)
	}
	if c.RecsPerInsert < 1 {
		return fmt.Errorf("recs_per_insert must be at least 1; got %d", c.RecsPerInsert)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("kafka_topic is required when kafka_brokers is set")
	}
	return nil
}

// BaseYears parses the base period.
func (c *Config) BaseYears() (start, end int, err error) {
	from, to, ok := strings.Cut(c.BasePeriod, "-")
	if ok {
		start, err = strconv.Atoi(from)
		if err == nil {
			end, err = strconv.Atoi(to)
		}
	}
	if !ok || err != nil || len(from) != 4 || len(to) != 4 {
		return 0, 0, fmt.Errorf("%w: %q is not YYYY-YYYY", ehf.ErrBasePeriod, c.BasePeriod)
	}
	if start > end {
		return 0, 0, fmt.Errorf("%w: %d is after %d", ehf.ErrBasePeriod, start, end)
	}
	return start, end, nil
}

// WantDaily reports whether the daily output is requested.
func (c *Config) WantDaily() bool { return c.Daily || c.DailyOnly }

// WantYearly reports whether the yearly output is requested.
func (c *Config) WantYearly() bool { return !c.DailyOnly }

// Params converts the scalar settings into computation parameters for the
// given calendar.
func (c *Config) Params(cal string) (ehf.Params, error) {
	method, err := ehf.ParseMethod(c.QuantileMethod)
	if err != nil {
		return ehf.Params{}, err
	}
	season, err := calendar.ParseSeason(c.Season)
	if err != nil {
		return ehf.Params{}, err
	}
	profile, err := calendar.Lookup(cal, season)
	if err != nil {
		return ehf.Params{}, err
	}
	return ehf.Params{
		Percentile: c.Percentile,
		Method:     method,
		Profile:    profile,
		Season:     season,
		Daily:      c.WantDaily(),
		Yearly:     c.WantYearly(),
		Workers:    c.Concurrency,
	}, nil
}
