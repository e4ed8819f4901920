package metrics

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "cryptoingest/config"
	"cryptoingest/logger"
)

const (
	defaultNamespace = "CryptoIngest"
	publishTimeout   = 5 * time.Second
)

type putMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// cwPublisher sends metric events to one CloudWatch namespace.
type cwPublisher struct {
	api       putMetricDataAPI
	namespace string
}

// publisher is nil until InitCloudWatch succeeds.
var publisher atomic.Pointer[cwPublisher]

// InitCloudWatch turns on CloudWatch publishing for EmitMetric. Failure to
// load AWS configuration is logged and leaves publishing off.
func InitCloudWatch(ctx context.Context, cfg appconfig.CloudWatchConfig) {
	log := logger.GetLogger().WithComponent("cloudwatch")
	if !cfg.Enabled {
		return
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := firstNonEmpty(cfg.Region, os.Getenv("AWS_REGION")); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("CloudWatch disabled: cannot load AWS configuration")
		return
	}

	p := &cwPublisher{
		api:       cloudwatch.NewFromConfig(awsCfg),
		namespace: firstNonEmpty(cfg.Namespace, defaultNamespace),
	}
	publisher.Store(p)
	log.WithFields(logger.Fields{"region": awsCfg.Region, "namespace": p.namespace}).Info("CloudWatch publishing enabled")
}

// EmitMetric logs the metric, hands it to registered handlers and, when
// CloudWatch is enabled, publishes numeric values.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	event, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}
	if p := publisher.Load(); p != nil {
		p.publish(event)
	}
}

func (p *cwPublisher) publish(event Metric) {
	value, ok := numeric(event.Value)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	_, err := p.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{datumFor(event, value)},
	})
	if err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).
			WithField("metric", event.Name).Warn("failed to publish metric")
	}
}

// datumFor maps an event to a datum. String fields become dimensions,
// except "unit" which selects the CloudWatch unit.
func datumFor(event Metric, value float64) cwtypes.MetricDatum {
	unit := cwtypes.StandardUnitCount
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(event.Component)}}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s, ok := event.Fields[k].(string)
		if !ok || s == "" {
			continue
		}
		if k == "unit" {
			unit = standardUnit(s)
			continue
		}
		dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
	}

	return cwtypes.MetricDatum{
		MetricName: aws.String(event.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(event.Timestamp),
	}
}

func standardUnit(s string) cwtypes.StandardUnit {
	switch strings.ToLower(s) {
	case "percent":
		return cwtypes.StandardUnitPercent
	case "ms", "milliseconds":
		return cwtypes.StandardUnitMilliseconds
	case "seconds":
		return cwtypes.StandardUnitSeconds
	case "bytes":
		return cwtypes.StandardUnitBytes
	default:
		return cwtypes.StandardUnitCount
	}
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case time.Duration:
		return float64(n.Milliseconds()), true
	default:
		return 0, false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
