package logger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// cloudwatchPublisher holds the optional CloudWatch side channel for
// metrics emitted through LogMetric and the runtime report. It stays nil
// until InitCloudWatch succeeds, and every publish is a no-op then.
type cloudwatchPublisher struct {
	client    *cloudwatch.Client
	namespace string
	dashboard string
}

var cwPublisher = &cloudwatchPublisher{
	namespace: "Kryptometer",
	dashboard: "Kryptometer",
}

// InitCloudWatch wires up the CloudWatch client. An empty region falls
// back to AWS_REGION. Failure leaves metric publishing disabled and is
// only logged.
func InitCloudWatch(region, namespace, dashboard string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	if namespace != "" {
		cwPublisher.namespace = namespace
	}
	if dashboard != "" {
		cwPublisher.dashboard = dashboard
	}
	cwPublisher.client = cloudwatch.NewFromConfig(cfg)

	log.WithFields(Fields{"region": region, "namespace": cwPublisher.namespace}).Info("initialized CloudWatch client")

	cwPublisher.ensureDashboard(ctx)
}

func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	if cwPublisher.client == nil || len(data) == 0 {
		return
	}

	log := GetLogger().WithComponent("cloudwatch")
	if _, err := cwPublisher.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cwPublisher.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}
	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

// ensureDashboard creates a single-widget system dashboard so the KM-*
// metrics are visible without manual setup. Failures are only logged.
func (p *cloudwatchPublisher) ensureDashboard(ctx context.Context) {
	if p.client == nil {
		return
	}

	body := fmt.Sprintf(`{
"widgets": [{
"type": "metric",
"width": 24,
"height": 6,
"properties": {
"metrics": [
    ["%[1]s","KM-CPUPercent"],
    ["%[1]s","KM-MemoryMB"],
    ["%[1]s","KM-DiskMB"]
],
"period": 60,
"stat": "Average",
"title": "Kryptometer System Metrics"
}
}]
}`, p.namespace)

	if _, err := p.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(p.dashboard),
		DashboardBody: aws.String(body),
	}); err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
