package stack

import (
	"fmt"
	"strings"
)

// Qualifier is the default bootstrap qualifier of the modern CDK bootstrap
// stack. Asset buckets and deployment roles are named after it.
const Qualifier = "hnb659fds"

// Environment is the target account and region of a stack. Empty fields
// render as CloudFormation pseudo parameters.
type Environment struct {
	Account string
	Region  string
}

// AccountOrPseudo returns the account, or the AWS::AccountId placeholder.
func (e Environment) AccountOrPseudo() string {
	if e.Account == "" {
		return "${AWS::AccountId}"
	}
	return e.Account
}

// RegionOrPseudo returns the region, or the AWS::Region placeholder.
func (e Environment) RegionOrPseudo() string {
	if e.Region == "" {
		return "${AWS::Region}"
	}
	return e.Region
}

// Name renders the environment the way cloud assembly manifests expect.
func (e Environment) Name() string {
	account, region := e.Account, e.Region
	if account == "" {
		account = "unknown-account"
	}
	if region == "" {
		region = "unknown-region"
	}
	return fmt.Sprintf("aws://%s/%s", account, region)
}

// Resolve substitutes known account and region values into a bootstrap
// name pattern. Unknown values stay as placeholders.
func (e Environment) Resolve(pattern string) string {
	return strings.NewReplacer(
		"${AWS::AccountId}", e.AccountOrPseudo(),
		"${AWS::Region}", e.RegionOrPseudo(),
	).Replace(pattern)
}

// Bootstrap resource name patterns.
const (
	AssetsBucketPattern       = "cdk-" + Qualifier + "-assets-${AWS::AccountId}-${AWS::Region}"
	FilePublishingRolePattern = "arn:${AWS::Partition}:iam::${AWS::AccountId}:role/cdk-" + Qualifier + "-file-publishing-role-${AWS::AccountId}-${AWS::Region}"
	DeployRolePattern         = "arn:${AWS::Partition}:iam::${AWS::AccountId}:role/cdk-" + Qualifier + "-deploy-role-${AWS::AccountId}-${AWS::Region}"
	CloudFormationExecPattern = "arn:${AWS::Partition}:iam::${AWS::AccountId}:role/cdk-" + Qualifier + "-cfn-exec-role-${AWS::AccountId}-${AWS::Region}"
	LookupRolePattern         = "arn:${AWS::Partition}:iam::${AWS::AccountId}:role/cdk-" + Qualifier + "-lookup-role-${AWS::AccountId}-${AWS::Region}"
	BootstrapVersionParameter = "/cdk-bootstrap/" + Qualifier + "/version"
	MinBootstrapVersion       = 6
	MinLookupBootstrapVersion = 8
)
