// Package route53 implements the DNS driver against an AWS hosted
// zone.
package route53

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	r53 "github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/xcord/hub/pkg/drivers"
)

// recordTTL is low on purpose: a healed instance should repoint fast.
const recordTTL = 300

// Provider manages instance A records inside one hosted zone. Writes
// go through UPSERT, so a replayed step converges instead of
// conflicting; deletes treat a missing record as success.
type Provider struct {
	client     *r53.Client
	zoneID     string
	baseDomain string
}

var _ drivers.DNSProvider = (*Provider)(nil)

// New builds a provider for the zone using ambient AWS credentials
// (environment, shared config, or instance role).
func New(ctx context.Context, zoneID, baseDomain string) (*Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &Provider{
		client:     r53.NewFromConfig(awsCfg),
		zoneID:     zoneID,
		baseDomain: baseDomain,
	}, nil
}

// Ping resolves the hosted zone, validating credentials and zone ID at
// boot.
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.client.GetHostedZone(ctx, &r53.GetHostedZoneInput{
		Id: aws.String(p.zoneID),
	})
	return err
}

func (p *Provider) CreateARecord(ctx context.Context, subdomain, ip string) error {
	_, err := p.client.ChangeResourceRecordSets(ctx, &r53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action: r53types.ChangeActionUpsert,
				ResourceRecordSet: &r53types.ResourceRecordSet{
					Name:            aws.String(p.fqdn(subdomain)),
					Type:            r53types.RRTypeA,
					TTL:             aws.Int64(recordTTL),
					ResourceRecords: []r53types.ResourceRecord{{Value: aws.String(ip)}},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("upserting A record %s: %w", p.fqdn(subdomain), err)
	}
	return nil
}

// VerifyARecord asks the zone itself, not a resolver, so a fresh write
// is visible immediately.
func (p *Provider) VerifyARecord(ctx context.Context, subdomain string) (bool, error) {
	record, err := p.findRecord(ctx, subdomain)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

func (p *Provider) DeleteARecord(ctx context.Context, subdomain string) error {
	// DELETE must quote the record exactly as stored (TTL and values
	// included), so look it up first. Already gone means done.
	record, err := p.findRecord(ctx, subdomain)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	_, err = p.client.ChangeResourceRecordSets(ctx, &r53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action:            r53types.ChangeActionDelete,
				ResourceRecordSet: record,
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting A record %s: %w", p.fqdn(subdomain), err)
	}
	return nil
}

// findRecord returns the zone's A record for the subdomain, or nil when
// none exists. Listing starts at the record name; the first entry
// either is the record or proves its absence.
func (p *Provider) findRecord(ctx context.Context, subdomain string) (*r53types.ResourceRecordSet, error) {
	name := strings.ToLower(p.fqdn(subdomain))
	resp, err := p.client.ListResourceRecordSets(ctx, &r53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(p.zoneID),
		StartRecordName: aws.String(name),
		StartRecordType: r53types.RRTypeA,
		MaxItems:        aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("listing records at %s: %w", name, err)
	}
	if len(resp.ResourceRecordSets) == 0 {
		return nil, nil
	}

	record := resp.ResourceRecordSets[0]
	if strings.ToLower(unescapeRecordName(aws.ToString(record.Name))) != name ||
		record.Type != r53types.RRTypeA {
		return nil, nil
	}
	return &record, nil
}

// fqdn builds the zone-qualified record name for an instance subdomain.
func (p *Provider) fqdn(subdomain string) string {
	return subdomain + "." + strings.TrimSuffix(p.baseDomain, ".") + "."
}

// unescapeRecordName undoes the octal escaping the zone API applies to
// record names.
func unescapeRecordName(name string) string {
	unquoted, err := strconv.Unquote(`"` + name + `"`)
	if err != nil {
		return name
	}
	return unquoted
}
