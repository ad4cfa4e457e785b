package testutil

import (
	"testing"
)

// AppHCL is the entry descriptor used across tests. The account comes from
// the environment so tests can exercise env() through a LookupEnv override.
const AppHCL = `
app "stelo-web" {
  account = env("STELO_SITE_ACCOUNT", "")
  region  = env("STELO_SITE_REGION", "us-east-1")

  tags = {
    "stelo:app" = "website"
  }
}

locals {
  connection_arn = env("STELO_SITE_GIT_CONN_ARN", "connectionArn")
}
`

// PipelineHCL is the pipeline descriptor used across tests.
const PipelineHCL = `
pipeline "stelo-web" {
  pipeline_name              = "stelo-web"
  termination_protection     = true
  cross_account_keys         = true
  enable_key_rotation        = true
  publish_assets_in_parallel = false

  tags = {
    "stelo:website:entity" = "pipeline"
  }

  build_environment {
    environment_variables = {
      STELO_SITE_GIT_CONN_ARN = local.connection_arn
      STELO_SITE_ACCOUNT      = app.account
    }
  }

  log_group "synth" {
    name           = "/aws/codebuild/${app.name}-synth"
    retention_days = 180
  }

  log_group "self_mutate" {
    name           = "/aws/codebuild/${app.name}-mutate"
    retention_days = 180
  }

  log_group "assets" {
    name           = "/aws/codebuild/${app.name}-assets"
    retention_days = 180
  }

  source "cdk.stelo.me" {
    repository     = "jfkisafk/cdk.stelo.me"
    connection_arn = local.connection_arn
    clone_output   = true
  }

  source "stelo.cdn" {
    repository     = "jfkisafk/stelo.cdn"
    connection_arn = local.connection_arn
    clone_output   = true
  }

  synth {
    input             = "cdk.stelo.me"
    additional_inputs = { "../cdn" = "stelo.cdn" }
    commands          = ["./bin/steloinfra synth -out cdk.out descriptors"]
  }

  wave "Global" {
    stages = ["CDN"]
  }
}
`

// CDNStageHCL is the distribution stage descriptor used across tests. Its
// assets come from the site/ directory next to it.
const CDNStageHCL = `
stage "distribution" "CDN" {
  stage_name  = "${app.name}-cdn"
  stack_name  = "${app.name}-cdn"
  description = "CDN resources for stelo websites"
  domain_name = "cdn.stelo.dev"

  tags = {
    "stelo:website:entity" = "infrastructure"
  }

  logs_bucket {
    bucket_name = "access.logs.stelo.dev"
  }

  assets_bucket {
    bucket_name = "stelo.dev"
  }

  deployment {
    source_dir    = "site"
    function_name = "${app.name}-assets-deployment"
    role_name     = "${app.name}-assets-deployment-role"
  }

  certificate {
    name = "stelo-cdn"
  }

  cdn {
    comment = "Distribution for getting assets"

    error_response {
      http_status     = 403
      response_status = 200
      page_path       = "/index.html"
    }
  }

  response_headers {
    name            = "stelo-cdn-cors"
    sibling_domains = ["stelo.info", "stelo.app", "stelo.dev", "stelo.me"]
  }

  suppression "AwsSolutions-CFR2" {
    construct = "AssetsDistro"
    reason    = "WAF protection is expensive"
  }
}
`

// IndexHTML is the single page of the test site.
const IndexHTML = "<!doctype html><html><body>stelo</body></html>\n"

// SteloFiles returns the full descriptor set plus the site directory. The
// returned map may be extended before it is written.
func SteloFiles() map[string]string {
	return map[string]string{
		"app.hcl":         AppHCL,
		"pipeline.hcl":    PipelineHCL,
		"cdn.hcl":         CDNStageHCL,
		"site/index.html": IndexHTML,
	}
}

// WriteStelo writes the full descriptor set to a temp dir and returns it.
func WriteStelo(t *testing.T) string {
	t.Helper()
	return WriteFiles(t, SteloFiles())
}
