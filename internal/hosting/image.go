package hosting

import "fmt"

// sklearnRegistries maps regions to the account hosting the
// sagemaker-scikit-learn images.
var sklearnRegistries = map[string]string{
	"us-east-1":      "683313688378",
	"us-east-2":      "257758044811",
	"us-west-1":      "746614075791",
	"us-west-2":      "246618743249",
	"eu-west-1":      "141502667606",
	"eu-west-2":      "764974769150",
	"eu-central-1":   "492215442770",
	"ap-northeast-1": "354813040037",
	"ap-southeast-1": "121021644041",
	"ap-southeast-2": "783357654285",
}

// ImageURI returns the scikit-learn CPU image for region. Regions without a
// known registry need an explicit image URI.
func ImageURI(region, frameworkVersion, pyVersion string) (string, error) {
	account, ok := sklearnRegistries[region]
	if !ok {
		return "", fmt.Errorf("no scikit-learn image registry known for region %q; set model.image_uri", region)
	}
	if pyVersion == "" {
		pyVersion = "py3"
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/sagemaker-scikit-learn:%s-cpu-%s",
		account, region, frameworkVersion, pyVersion), nil
}
