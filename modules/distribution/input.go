package distribution

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/specialistvlad/steloinfra/internal/config"
)

// Input is the body of a `stage "distribution" "<name>"` block.
type Input struct {
	StackID               string            `hcl:"stack_id,optional"`
	StackName             string            `hcl:"stack_name,optional"`
	Description           string            `hcl:"description,optional"`
	TerminationProtection *bool             `hcl:"termination_protection,optional"`
	SecurityChecks        *bool             `hcl:"security_checks,optional"`
	Tags                  map[string]string `hcl:"tags,optional"`
	DomainName            string            `hcl:"domain_name"`

	EncryptionKey   *KeyInput           `hcl:"encryption_key,block"`
	LogsBucket      *LogsBucketInput    `hcl:"logs_bucket,block"`
	AssetsBucket    *AssetsBucketInput  `hcl:"assets_bucket,block"`
	Deployment      *DeploymentInput    `hcl:"deployment,block"`
	HostedZone      *HostedZoneInput    `hcl:"hosted_zone,block"`
	Certificate     *CertificateInput   `hcl:"certificate,block"`
	CDN             *CDNInput           `hcl:"cdn,block"`
	ResponseHeaders *HeadersInput       `hcl:"response_headers,block"`
	Suppressions    []*SuppressionInput `hcl:"suppression,block"`
}

// KeyInput configures the shared encryption key.
type KeyInput struct {
	Alias             string   `hcl:"alias,optional"`
	Description       string   `hcl:"description,optional"`
	EnableRotation    *bool    `hcl:"enable_rotation,optional"`
	ServicePrincipals []string `hcl:"service_principals,optional"`
	RemovalPolicy     string   `hcl:"removal_policy,optional"`
}

// LogsBucketInput configures the access logs bucket.
type LogsBucketInput struct {
	BucketName             string `hcl:"bucket_name"`
	ExpirationDays         int    `hcl:"expiration_days,optional"`
	TransitionDays         int    `hcl:"transition_days,optional"`
	TransitionStorageClass string `hcl:"transition_storage_class,optional"`
	RemovalPolicy          string `hcl:"removal_policy,optional"`
}

// AssetsBucketInput configures the origin bucket.
type AssetsBucketInput struct {
	BucketName       string `hcl:"bucket_name"`
	AccessLogsPrefix string `hcl:"access_logs_prefix,optional"`
	RemovalPolicy    string `hcl:"removal_policy,optional"`
}

// DeploymentInput configures the bucket deployment of the local site assets.
type DeploymentInput struct {
	SourceDir        string   `hcl:"source_dir"`
	Exclude          []string `hcl:"exclude,optional"`
	Prune            *bool    `hcl:"prune,optional"`
	FunctionName     string   `hcl:"function_name,optional"`
	RoleName         string   `hcl:"role_name,optional"`
	Runtime          string   `hcl:"runtime,optional"`
	MemorySize       int      `hcl:"memory_size,optional"`
	TimeoutSeconds   int      `hcl:"timeout_seconds,optional"`
	LogRetentionDays int      `hcl:"log_retention_days,optional"`
}

// HostedZoneInput configures the public hosted zone.
type HostedZoneInput struct {
	ZoneName  string `hcl:"zone_name,optional"`
	Comment   string `hcl:"comment,optional"`
	CAAAmazon *bool  `hcl:"caa_amazon,optional"`
}

// CertificateInput configures the DNS-validated certificate.
type CertificateInput struct {
	Name       string `hcl:"name,optional"`
	DomainName string `hcl:"domain_name,optional"`
}

// CDNInput configures the distribution.
type CDNInput struct {
	Comment                string                `hcl:"comment,optional"`
	DefaultRootObject      string                `hcl:"default_root_object,optional"`
	PriceClass             string                `hcl:"price_class,optional"`
	HTTPVersion            string                `hcl:"http_version,optional"`
	MinimumProtocolVersion string                `hcl:"minimum_protocol_version,optional"`
	LogPrefix              string                `hcl:"log_prefix,optional"`
	GeoDenylist            []string              `hcl:"geo_denylist,optional"`
	CachePolicyID          string                `hcl:"cache_policy_id,optional"`
	ErrorResponses         []*ErrorResponseInput `hcl:"error_response,block"`
}

// ErrorResponseInput maps an origin error status to a viewer response.
type ErrorResponseInput struct {
	HTTPStatus     int    `hcl:"http_status"`
	ResponseStatus int    `hcl:"response_status,optional"`
	PagePath       string `hcl:"page_path,optional"`
	TTLSeconds     *int   `hcl:"ttl_seconds,optional"`
}

// HeadersInput configures the response headers policy. CORS origins and
// the CSP source list are both derived from SiblingDomains x OriginPrefixes.
type HeadersInput struct {
	Name                  string   `hcl:"name,optional"`
	Comment               string   `hcl:"comment,optional"`
	SiblingDomains        []string `hcl:"sibling_domains"`
	OriginPrefixes        []string `hcl:"origin_prefixes,optional"`
	AllowMethods          []string `hcl:"allow_methods,optional"`
	AllowHeaders          []string `hcl:"allow_headers,optional"`
	AllowCredentials      bool     `hcl:"allow_credentials,optional"`
	MaxAgeSeconds         int      `hcl:"max_age_seconds,optional"`
	FrameOption           string   `hcl:"frame_option,optional"`
	ReferrerPolicy        string   `hcl:"referrer_policy,optional"`
	HSTSMaxAgeSeconds     int      `hcl:"hsts_max_age_seconds,optional"`
	HSTSIncludeSubdomains *bool    `hcl:"hsts_include_subdomains,optional"`
}

// SuppressionInput silences one rule on the resources under a construct.
type SuppressionInput struct {
	ID        string `hcl:"id,label"`
	Construct string `hcl:"construct"`
	Reason    string `hcl:"reason"`
}

// DefaultServicePrincipals are granted encrypt/decrypt on the shared key.
var DefaultServicePrincipals = []string{"s3", "logs", "delivery.logs", "cloudfront"}

// DefaultGeoDenylist is the country denylist of the distribution.
var DefaultGeoDenylist = []string{"CU", "IR", "KP", "SY", "UA", "CN", "PK"}

func boolPtr(b bool) *bool { return &b }

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func (in *Input) applyDefaults() {
	in.StackID = orDefault(in.StackID, "CDNStack")
	if in.TerminationProtection == nil {
		in.TerminationProtection = boolPtr(true)
	}
	if in.SecurityChecks == nil {
		in.SecurityChecks = boolPtr(true)
	}

	if in.EncryptionKey == nil {
		in.EncryptionKey = &KeyInput{}
	}
	k := in.EncryptionKey
	k.Alias = orDefault(k.Alias, "alias/stelo/web")
	if k.EnableRotation == nil {
		k.EnableRotation = boolPtr(true)
	}
	if k.ServicePrincipals == nil {
		k.ServicePrincipals = append([]string(nil), DefaultServicePrincipals...)
	}
	k.RemovalPolicy = orDefault(k.RemovalPolicy, "Delete")

	if in.LogsBucket != nil {
		l := in.LogsBucket
		l.ExpirationDays = intOrDefault(l.ExpirationDays, 90)
		l.TransitionDays = intOrDefault(l.TransitionDays, 30)
		l.TransitionStorageClass = orDefault(l.TransitionStorageClass, "STANDARD_IA")
		l.RemovalPolicy = orDefault(l.RemovalPolicy, "Delete")
	}
	if in.AssetsBucket != nil {
		a := in.AssetsBucket
		a.AccessLogsPrefix = orDefault(a.AccessLogsPrefix, a.BucketName+"/bucket/")
		a.RemovalPolicy = orDefault(a.RemovalPolicy, "Delete")
	}
	if in.Deployment != nil {
		d := in.Deployment
		if d.Prune == nil {
			d.Prune = boolPtr(true)
		}
		d.Runtime = orDefault(d.Runtime, "python3.12")
		d.MemorySize = intOrDefault(d.MemorySize, 128)
		d.TimeoutSeconds = intOrDefault(d.TimeoutSeconds, 900)
		d.LogRetentionDays = intOrDefault(d.LogRetentionDays, 60)
	}

	if in.HostedZone == nil {
		in.HostedZone = &HostedZoneInput{}
	}
	in.HostedZone.ZoneName = orDefault(in.HostedZone.ZoneName, in.DomainName)
	in.HostedZone.Comment = orDefault(in.HostedZone.Comment, fmt.Sprintf("Delegation for %s resources", in.HostedZone.ZoneName))
	if in.HostedZone.CAAAmazon == nil {
		in.HostedZone.CAAAmazon = boolPtr(true)
	}

	if in.Certificate == nil {
		in.Certificate = &CertificateInput{}
	}
	in.Certificate.DomainName = orDefault(in.Certificate.DomainName, in.DomainName)

	if in.CDN == nil {
		in.CDN = &CDNInput{}
	}
	c := in.CDN
	c.DefaultRootObject = orDefault(c.DefaultRootObject, "index.html")
	c.PriceClass = orDefault(c.PriceClass, "PriceClass_200")
	c.HTTPVersion = orDefault(c.HTTPVersion, "http2and3")
	c.MinimumProtocolVersion = orDefault(c.MinimumProtocolVersion, "TLSv1.2_2021")
	c.CachePolicyID = orDefault(c.CachePolicyID, CachingOptimizedPolicyID)
	if c.GeoDenylist == nil {
		c.GeoDenylist = append([]string(nil), DefaultGeoDenylist...)
	}
	if in.AssetsBucket != nil {
		c.LogPrefix = orDefault(c.LogPrefix, in.AssetsBucket.BucketName+"/cdn/")
	}

	if in.ResponseHeaders != nil {
		h := in.ResponseHeaders
		if h.OriginPrefixes == nil {
			h.OriginPrefixes = []string{"https://", "https://*."}
		}
		if h.AllowMethods == nil {
			h.AllowMethods = []string{"GET", "HEAD"}
		}
		if h.AllowHeaders == nil {
			h.AllowHeaders = []string{"*"}
		}
		h.MaxAgeSeconds = intOrDefault(h.MaxAgeSeconds, 3600)
		h.FrameOption = orDefault(h.FrameOption, "SAMEORIGIN")
		h.ReferrerPolicy = orDefault(h.ReferrerPolicy, "strict-origin-when-cross-origin")
		h.HSTSMaxAgeSeconds = intOrDefault(h.HSTSMaxAgeSeconds, 31536000)
		if h.HSTSIncludeSubdomains == nil {
			h.HSTSIncludeSubdomains = boolPtr(true)
		}
	}
}

var (
	domainPattern     = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
	bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	countryPattern    = regexp.MustCompile(`^[A-Z]{2}$`)
	aliasPattern      = regexp.MustCompile(`^alias/[a-zA-Z0-9/_-]+$`)
)

var (
	priceClasses   = map[string]bool{"PriceClass_100": true, "PriceClass_200": true, "PriceClass_All": true}
	httpVersions   = map[string]bool{"http1.1": true, "http2": true, "http3": true, "http2and3": true}
	frameOptions   = map[string]bool{"DENY": true, "SAMEORIGIN": true}
	removalPolicy  = map[string]bool{"Delete": true, "Retain": true}
	storageClasses = map[string]bool{"STANDARD_IA": true, "ONEZONE_IA": true, "INTELLIGENT_TIERING": true, "GLACIER": true, "GLACIER_IR": true, "DEEP_ARCHIVE": true}
	referrers      = map[string]bool{
		"no-referrer": true, "no-referrer-when-downgrade": true, "origin": true, "origin-when-cross-origin": true,
		"same-origin": true, "strict-origin": true, "strict-origin-when-cross-origin": true, "unsafe-url": true,
	}
	// principalsFor lists the key grants each key consumer needs.
	principalsFor = map[string][]string{
		"logs bucket":          {"s3", "delivery.logs"},
		"assets bucket":        {"s3", "cloudfront"},
		"deployment log group": {"logs"},
	}
)

// Validate checks the invariants of a defaulted input.
func (in *Input) Validate() error {
	var errs config.Errors

	if !domainPattern.MatchString(in.DomainName) {
		errs.Add("domain_name '%s' is not a valid DNS name", in.DomainName)
	}
	if in.LogsBucket == nil {
		errs.Add("a logs_bucket block is required")
	}
	if in.AssetsBucket == nil {
		errs.Add("an assets_bucket block is required")
	}

	k := in.EncryptionKey
	if !aliasPattern.MatchString(k.Alias) || strings.HasPrefix(k.Alias, "alias/aws/") {
		errs.Add("encryption key alias '%s' is invalid", k.Alias)
	}
	if !removalPolicy[k.RemovalPolicy] {
		errs.Add("encryption key removal_policy '%s' must be Delete or Retain", k.RemovalPolicy)
	}
	granted := map[string]bool{}
	for _, p := range k.ServicePrincipals {
		granted[p] = true
	}
	for _, consumer := range []string{"logs bucket", "assets bucket", "deployment log group"} {
		if consumer == "deployment log group" && in.Deployment == nil {
			continue
		}
		for _, p := range principalsFor[consumer] {
			if !granted[p] {
				errs.Add("encryption key must grant '%s' to be usable by the %s", p, consumer)
			}
		}
	}

	if l := in.LogsBucket; l != nil {
		validateBucketName(&errs, "logs_bucket", l.BucketName)
		if l.TransitionDays >= l.ExpirationDays {
			errs.Add("logs_bucket: transition_days (%d) must be lower than expiration_days (%d)", l.TransitionDays, l.ExpirationDays)
		}
		if l.TransitionDays < 30 && strings.HasSuffix(l.TransitionStorageClass, "_IA") {
			errs.Add("logs_bucket: %s transitions require at least 30 days, got %d", l.TransitionStorageClass, l.TransitionDays)
		}
		if !storageClasses[l.TransitionStorageClass] {
			errs.Add("logs_bucket: unknown storage class '%s'", l.TransitionStorageClass)
		}
		if !removalPolicy[l.RemovalPolicy] {
			errs.Add("logs_bucket: removal_policy '%s' must be Delete or Retain", l.RemovalPolicy)
		}
	}
	if a := in.AssetsBucket; a != nil {
		validateBucketName(&errs, "assets_bucket", a.BucketName)
		if in.LogsBucket != nil && a.BucketName == in.LogsBucket.BucketName {
			errs.Add("assets_bucket and logs_bucket must not share the name '%s'", a.BucketName)
		}
		if !removalPolicy[a.RemovalPolicy] {
			errs.Add("assets_bucket: removal_policy '%s' must be Delete or Retain", a.RemovalPolicy)
		}
	}

	if d := in.Deployment; d != nil {
		if d.SourceDir == "" {
			errs.Add("deployment: source_dir must not be empty")
		}
		if !config.ValidRetentionDays(d.LogRetentionDays) {
			errs.Add("deployment: %d is not a valid log retention", d.LogRetentionDays)
		}
		if d.TimeoutSeconds > 900 {
			errs.Add("deployment: timeout_seconds must not exceed 900, got %d", d.TimeoutSeconds)
		}
	}

	zone := in.HostedZone.ZoneName
	if !domainPattern.MatchString(zone) {
		errs.Add("hosted_zone: zone_name '%s' is not a valid DNS name", zone)
	}
	certDomain := in.Certificate.DomainName
	if certDomain != zone && !strings.HasSuffix(certDomain, "."+zone) {
		errs.Add("certificate domain '%s' cannot be validated through hosted zone '%s'", certDomain, zone)
	}
	if in.DomainName != zone && !strings.HasSuffix(in.DomainName, "."+zone) {
		errs.Add("domain_name '%s' cannot be aliased from hosted zone '%s'", in.DomainName, zone)
	}
	if in.DomainName != certDomain && !coveredByWildcard(certDomain, in.DomainName) {
		errs.Add("certificate domain '%s' does not cover '%s'", certDomain, in.DomainName)
	}

	c := in.CDN
	if !priceClasses[c.PriceClass] {
		errs.Add("cdn: unknown price_class '%s'", c.PriceClass)
	}
	if !httpVersions[c.HTTPVersion] {
		errs.Add("cdn: unknown http_version '%s'", c.HTTPVersion)
	}
	if !strings.HasPrefix(c.MinimumProtocolVersion, "TLSv1.2_") {
		errs.Add("cdn: minimum_protocol_version must be TLSv1.2 or newer, got '%s'", c.MinimumProtocolVersion)
	}
	if strings.HasPrefix(c.DefaultRootObject, "/") {
		errs.Add("cdn: default_root_object must not start with '/'")
	}
	seenCountry := map[string]bool{}
	for _, cc := range c.GeoDenylist {
		if !countryPattern.MatchString(cc) {
			errs.Add("cdn: '%s' is not an ISO 3166-1 alpha-2 country code", cc)
		}
		if seenCountry[cc] {
			errs.Add("cdn: country '%s' is listed twice", cc)
		}
		seenCountry[cc] = true
	}
	seenStatus := map[int]bool{}
	for _, er := range c.ErrorResponses {
		if er.HTTPStatus < 400 || er.HTTPStatus > 599 {
			errs.Add("cdn: error_response http_status %d is not an error status", er.HTTPStatus)
		}
		if seenStatus[er.HTTPStatus] {
			errs.Add("cdn: error_response for %d is declared twice", er.HTTPStatus)
		}
		seenStatus[er.HTTPStatus] = true
		if (er.ResponseStatus == 0) != (er.PagePath == "") {
			errs.Add("cdn: error_response %d must set response_status and page_path together", er.HTTPStatus)
		}
		if er.PagePath != "" && !strings.HasPrefix(er.PagePath, "/") {
			errs.Add("cdn: error_response page_path '%s' must start with '/'", er.PagePath)
		}
	}

	if h := in.ResponseHeaders; h != nil {
		if len(h.SiblingDomains) == 0 {
			errs.Add("response_headers: sibling_domains must not be empty")
		}
		seenDomain := map[string]bool{}
		for _, d := range h.SiblingDomains {
			if !domainPattern.MatchString(d) {
				errs.Add("response_headers: sibling domain '%s' is not a valid DNS name", d)
			}
			if seenDomain[d] {
				errs.Add("response_headers: sibling domain '%s' is listed twice", d)
			}
			seenDomain[d] = true
		}
		seenPrefix := map[string]bool{}
		for _, p := range h.OriginPrefixes {
			if !strings.HasPrefix(p, "https://") {
				errs.Add("response_headers: origin prefix '%s' must use https", p)
			}
			if seenPrefix[p] {
				errs.Add("response_headers: origin prefix '%s' is listed twice", p)
			}
			seenPrefix[p] = true
		}
		if !frameOptions[h.FrameOption] {
			errs.Add("response_headers: frame_option '%s' must be DENY or SAMEORIGIN", h.FrameOption)
		}
		if !referrers[h.ReferrerPolicy] {
			errs.Add("response_headers: unknown referrer_policy '%s'", h.ReferrerPolicy)
		}
		if h.AllowCredentials && contains(h.AllowHeaders, "*") {
			errs.Add("response_headers: allow_credentials cannot be combined with a wildcard allow_headers")
		}
	}

	for _, sup := range in.Suppressions {
		if !strings.HasPrefix(sup.ID, "AwsSolutions-") {
			errs.Add("suppression '%s': unknown rule pack", sup.ID)
		}
		if strings.TrimSpace(sup.Reason) == "" {
			errs.Add("suppression '%s': reason must not be empty", sup.ID)
		}
	}

	return errs.Err()
}

func validateBucketName(errs *config.Errors, block, name string) {
	if !bucketNamePattern.MatchString(name) || strings.Contains(name, "..") {
		errs.Add("%s: bucket_name '%s' is not a valid S3 bucket name", block, name)
	}
}

func coveredByWildcard(certDomain, name string) bool {
	if !strings.HasPrefix(certDomain, "*.") {
		return false
	}
	parent := certDomain[2:]
	i := strings.Index(name, ".")
	return i > 0 && name[i+1:] == parent
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
