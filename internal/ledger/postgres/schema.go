package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS confidential_accounts (
	address BYTEA PRIMARY KEY,
	mint BYTEA NOT NULL,
	token_account BYTEA NOT NULL,
	layout BYTEA NOT NULL,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT address_len CHECK (octet_length(address) = 32),
	CONSTRAINT mint_len CHECK (octet_length(mint) = 32),
	CONSTRAINT token_account_len CHECK (octet_length(token_account) = 32),
	CONSTRAINT account_layout_len CHECK (octet_length(layout) = 285)
);

CREATE INDEX IF NOT EXISTS confidential_accounts_mint_idx ON confidential_accounts (mint);

CREATE TABLE IF NOT EXISTS confidential_auditors (
	mint BYTEA PRIMARY KEY,
	layout BYTEA NOT NULL,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT auditor_mint_len CHECK (octet_length(mint) = 32),
	CONSTRAINT auditor_layout_len CHECK (octet_length(layout) = 65)
);

CREATE TABLE IF NOT EXISTS processed_instructions (
	instruction_id BYTEA PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT instruction_id_len CHECK (octet_length(instruction_id) = 16)
);
`
