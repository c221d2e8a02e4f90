package orchestrator

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkflowParams parameterize the generated per-job workflow.
type WorkflowParams struct {
	JobID       string
	AppName     string
	Branch      string
	BuildConfig string
	TeamID      string
	CallbackURL string
}

// GenerateWorkflow renders the CI workflow injected into each fork. The
// workflow archives the app, exports an unsigned IPA and posts the result
// back to the completion endpoint. The job id is baked in so the callback
// can be correlated without provider-side state.
func GenerateWorkflow(p WorkflowParams) ([]byte, error) {
	if p.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if p.CallbackURL == "" {
		return nil, fmt.Errorf("callback url is required")
	}

	callback := strings.TrimSuffix(p.CallbackURL, "/") + "/api/build_complete"
	ipaName := fmt.Sprintf("%s.ipa", p.AppName)

	buildScript := strings.Join([]string{
		"set -euo pipefail",
		fmt.Sprintf("xcodebuild archive -scheme %q -configuration %q -archivePath build/%s.xcarchive -destination 'generic/platform=iOS' CODE_SIGNING_ALLOWED=NO %s",
			p.AppName, p.BuildConfig, p.AppName, teamIDFlag(p.TeamID)),
		fmt.Sprintf("mkdir -p build/ipa/Payload && cp -R build/%s.xcarchive/Products/Applications/*.app build/ipa/Payload/", p.AppName),
		fmt.Sprintf("cd build/ipa && zip -qry ../%s Payload", ipaName),
	}, "\n")

	notifyScript := strings.Join([]string{
		`STATUS=${JOB_STATUS:-success}`,
		fmt.Sprintf(`if [ "$STATUS" = "success" ] && [ -f "build/%s" ]; then`, ipaName),
		fmt.Sprintf(`  IPA_DATA=$(base64 < "build/%s" | tr -d '\n')`, ipaName),
		fmt.Sprintf(`  PAYLOAD=$(jq -n --arg id %q --arg fn %q --arg data "$IPA_DATA" '{job_id: $id, status: "success", filename: $fn, artifact_b64: $data}')`, p.JobID, ipaName),
		`else`,
		fmt.Sprintf(`  PAYLOAD=$(jq -n --arg id %q '{job_id: $id, status: "failure", error: "workflow failed"}')`, p.JobID),
		`fi`,
		fmt.Sprintf(`curl -fsS -X POST -H 'Content-Type: application/json' -d "$PAYLOAD" %q`, callback),
	}, "\n")

	doc := workflowDoc{
		Name: fmt.Sprintf("Build %s", p.AppName),
		On: workflowOn{
			WorkflowDispatch: map[string]any{},
		},
		Jobs: map[string]workflowJob{
			"build": {
				RunsOn: "macos-latest",
				Steps: []workflowStep{
					{Name: "Checkout", Uses: "actions/checkout@v4"},
					{Name: "Build", Run: buildScript},
					{
						Name: "Notify",
						If:   "always()",
						Env:  map[string]string{"JOB_STATUS": "${{ job.status }}"},
						Run:  notifyScript,
					},
				},
			},
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	return out, nil
}

func teamIDFlag(teamID string) string {
	if teamID == "" {
		return ""
	}
	return fmt.Sprintf("DEVELOPMENT_TEAM=%s", teamID)
}

type workflowDoc struct {
	Name string                 `yaml:"name"`
	On   workflowOn             `yaml:"on"`
	Jobs map[string]workflowJob `yaml:"jobs"`
}

type workflowOn struct {
	WorkflowDispatch map[string]any `yaml:"workflow_dispatch"`
}

type workflowJob struct {
	RunsOn string         `yaml:"runs-on"`
	Steps  []workflowStep `yaml:"steps"`
}

type workflowStep struct {
	Name string            `yaml:"name"`
	Uses string            `yaml:"uses,omitempty"`
	If   string            `yaml:"if,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
	Run  string            `yaml:"run,omitempty"`
}
