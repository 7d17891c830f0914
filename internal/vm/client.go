package vm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/rtm0/ehfheatwaves/internal/dataset"
)

// Client is a Victoria Metrics client capable of inserting seasonal heatwave
// metrics via various protocols.
type Client struct {
	logger       *slog.Logger
	httpCli      *http.Client
	insertURL    string
	metricPrefix string
	recToText    recToTextFunc
}

const metricPrefixRE = "^[a-zA-Z0-9]+$"

// NewClient creates a new VM client.
func NewClient(logger *slog.Logger, insertURL string, maxConns int, metricPrefix string) (*Client, error) {
	url, err := url.Parse(insertURL)
	if err != nil {
		return nil, err
	}

	matches, err := regexp.Match(metricPrefixRE, []byte(metricPrefix))
	if err != nil {
		return nil, err
	}
	if !matches {
		return nil, fmt.Errorf("metric prefix %q does not match %q regular expression", metricPrefix, metricPrefixRE)
	}

	apiParams := apiParamsFuncs[url.Path]
	if apiParams == nil {
		return nil, fmt.Errorf("inserting into %q is not supported", insertURL)
	}
	q := url.Query()
	for name, value := range apiParams(metricPrefix) {
		q.Add(name, value)
	}
	url.RawQuery = q.Encode()

	recToText := recToTextFuncs[url.Path]
	if recToText == nil {
		return nil, fmt.Errorf("inserting into %q is not supported", insertURL)
	}

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		insertURL:    url.String(),
		metricPrefix: metricPrefix,
		recToText:    recToText,
	}, nil
}

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string { return "victoriametrics" }

// Publish inserts heatwave records into Victoria Metrics.
func (c *Client) Publish(ctx context.Context, recs []dataset.Record) error {
	body := recsToText(recs, c.metricPrefix, c.recToText)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.insertURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	res, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("could not post data: %w", err)
	}
	defer res.Body.Close()
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		c.logger.Error("Failed to drain response body", "err", err)
	}
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", res.StatusCode, c.insertURL)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpCli.CloseIdleConnections()
	return nil
}

type apiParamsFunc func(string) map[string]string

var apiParamsFuncs = map[string]apiParamsFunc{
	"/influx/write":        influxDBAPIParams,
	"/influx/api/v2/write": influxDBAPIParams,
	"/write":               influxDBAPIParams,
	"/api/v2/write":        influxDBAPIParams,
	"/api/v1/import/csv":   csvAPIParams,
}

func influxDBAPIParams(metricPrefix string) map[string]string {
	return map[string]string{"precision": "ms"}
}

func csvAPIParams(metricPrefix string) map[string]string {
	format := "1:time:unix_ms,2:label:lat,3:label:lon,4:label:year"
	for i, name := range dataset.MetricNames {
		format += fmt.Sprintf(",%d:metric:%s_%s", i+5, metricPrefix, name)
	}
	return map[string]string{"format": format}
}

type recToTextFunc func(*bytes.Buffer, *dataset.Record, string)

// recsToText converts multiple heatwave records to text.
func recsToText(recs []dataset.Record, metricPrefix string, recToText recToTextFunc) io.Reader {
	var buf bytes.Buffer
	for i := range recs {
		recToText(&buf, &recs[i], metricPrefix)
		buf.WriteString("\n")
	}
	return &buf
}

var recToTextFuncs = map[string]recToTextFunc{
	"/influx/write":        recToInfluxDB,
	"/influx/api/v2/write": recToInfluxDB,
	"/write":               recToInfluxDB,
	"/api/v2/write":        recToInfluxDB,
	"/api/v1/import/csv":   recToCSV,
}

// recToInfluxDB converts a heatwave record into InfluxDB line protocol v2 and
// appends it to the buffer. Undefined metrics are left out.
func recToInfluxDB(buf *bytes.Buffer, r *dataset.Record, metricPrefix string) {
	fmt.Fprintf(buf, "%s,lat=%.2f,lon=%.2f,year=%d ", metricPrefix, r.Latitude, r.Longitude, r.Year)
	names, values := r.Fields()
	sep := ""
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		buf.WriteString(sep)
		buf.WriteString(names[i])
		buf.WriteByte('=')
		buf.WriteString(formatValue(v))
		sep = ","
	}
	fmt.Fprintf(buf, " %d", r.Timestamp)
}

// recToCSV converts a heatwave record into a CSV record and appends it to
// the buffer. Undefined metrics are empty columns.
func recToCSV(buf *bytes.Buffer, r *dataset.Record, _ string) {
	fmt.Fprintf(buf, "%d,%.2f,%.2f,%d", r.Timestamp, r.Latitude, r.Longitude, r.Year)
	_, values := r.Fields()
	for _, v := range values {
		buf.WriteByte(',')
		if !math.IsNaN(v) {
			buf.WriteString(formatValue(v))
		}
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
