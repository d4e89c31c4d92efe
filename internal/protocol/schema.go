package protocol

import (
	"bytes"
	_ "embed"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/team_message.schema.json
var teamSchemaJSON []byte

const teamSchemaURL = "https://courier.ai/schemas/team_message.schema.json"

var (
	teamSchemaOnce sync.Once
	teamSchema     *jsonschema.Schema
	teamSchemaErr  error
)

func compiledTeamSchema() (*jsonschema.Schema, error) {
	teamSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(teamSchemaURL, bytes.NewReader(teamSchemaJSON)); err != nil {
			teamSchemaErr = err
			return
		}
		teamSchema, teamSchemaErr = c.Compile(teamSchemaURL)
	})
	return teamSchema, teamSchemaErr
}

func validateTeam(doc any) error {
	s, err := compiledTeamSchema()
	if err != nil {
		return err
	}
	return s.Validate(doc)
}
