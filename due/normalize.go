// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

package due

import "fmt"

// NormalizeError reports a payload that violates a required-field
// assumption. The affected declaration is skipped; the pipeline continues.
type NormalizeError struct {
	Numero string
	Field  string
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize: declaration %q: missing required field %s", e.Numero, e.Field)
}

// Normalize fans one declaration payload, plus the optional auxiliary
// listings, out into row batches per destination table. It performs no I/O
// and touches no shared state; identical input produces identical output.
// Empty auxiliary slices still produce a Batch so refresh replaces stale
// rows.
func Normalize(doc *Document, suspensionActs, exemptionActs []BondedAct, fiscalReqs []FiscalRequirement) (*RowSet, error) {
	if doc == nil || doc.Numero == "" {
		return nil, &NormalizeError{Field: "numero"}
	}
	n := doc.Numero

	rs := &RowSet{Principal: principalRow(doc)}

	events := make([]EventRow, 0, len(doc.EventosDoHistorico))
	for _, ev := range doc.EventosDoHistorico {
		events = append(events, EventRow{
			NumeroDue:             n,
			DataEHoraDoEvento:     nullable(ev.DataEHoraDoEvento),
			Evento:                ev.Evento,
			Responsavel:           ev.Responsavel,
			InformacoesAdicionais: ev.InformacoesAdicionais,
		})
	}
	rs.add(TableEvents, events, len(events))

	var (
		items          []ItemRow
		frameworks     []ItemFrameworkRow
		destinations   []ItemDestinationRow
		treatments     []ItemAdminTreatmentRow
		agencies       []ItemAdminAgencyRow
		remittances    []ItemRemittanceNoteRow
		exportNotes    []ItemExportNoteRow
		complementary  []ItemComplementaryNoteRow
		attributes     []ItemAttributeRow
		importDocs     []ItemImportDocRow
		transformDocs  []ItemTransformDocRow
		taxTreatments  []ItemTaxTreatmentRow
		taxBrackets    []ItemTaxBracketRow
	)
	for _, item := range doc.Itens {
		itemID := fmt.Sprintf("%s_%d", n, item.Numero)
		items = append(items, itemRow(n, itemID, &item))

		for _, fw := range item.ListaDeEnquadramentos {
			frameworks = append(frameworks, ItemFrameworkRow{
				DueItemID:    itemID,
				NumeroDue:    n,
				ItemNumero:   item.Numero,
				Codigo:       fw.Codigo,
				DataRegistro: nullable(fw.DataRegistro),
				Descricao:    fw.Descricao,
				Grupo:        fw.Grupo,
				Tipo:         fw.Tipo,
			})
		}
		for _, pais := range item.ListaPaisDestino {
			destinations = append(destinations, ItemDestinationRow{
				DueItemID:  itemID,
				NumeroDue:  n,
				ItemNumero: item.Numero,
				CodigoPais: pais.Codigo,
			})
		}
		for idx, tr := range item.TratamentosAdministrativos {
			trID := fmt.Sprintf("%s_%d", itemID, idx)
			treatments = append(treatments, ItemAdminTreatmentRow{
				ID:                   trID,
				DueItemID:            itemID,
				NumeroDue:            n,
				ItemNumero:           item.Numero,
				Mensagem:             tr.Mensagem,
				ImpeditivoDeEmbarque: tr.ImpeditivoDeEmbarque,
				CodigoLPCO:           tr.CodigoLPCO,
				Situacao:             tr.Situacao,
			})
			for _, orgao := range tr.Orgaos {
				agencies = append(agencies, ItemAdminAgencyRow{
					TratamentoAdministrativoID: trID,
					DueItemID:                  itemID,
					NumeroDue:                  n,
					Orgao:                      orgao,
				})
			}
		}
		for _, nr := range item.ItensDaNotaDeRemessa {
			remittances = append(remittances, remittanceRow(n, itemID, item.Numero, &nr))
		}
		if nf := item.ItemDaNotaFiscalDeExportacao; nf != nil {
			exportNotes = append(exportNotes, exportNoteRow(n, itemID, item.Numero, nf))
		}
		for idx, nc := range item.ItensDeNotaComplementar {
			complementary = append(complementary, complementaryRow(n, itemID, item.Numero, idx, &nc))
		}
		for idx, at := range item.Atributos {
			attributes = append(attributes, ItemAttributeRow{
				DueItemID:  itemID,
				NumeroDue:  n,
				ItemNumero: item.Numero,
				Indice:     idx,
				Codigo:     at.Codigo,
				Valor:      at.Valor,
				Descricao:  at.Descricao,
			})
		}
		for idx, di := range item.DocumentosImportacao {
			importDocs = append(importDocs, ItemImportDocRow{
				DueItemID:           itemID,
				NumeroDue:           n,
				ItemNumero:          item.Numero,
				Indice:              idx,
				Tipo:                di.Tipo,
				Numero:              di.Numero,
				DataRegistro:        nullable(di.DataRegistro),
				ItemDocumento:       di.ItemDocumento,
				QuantidadeUtilizada: di.QuantidadeUtilizada,
			})
		}
		for idx, dt := range item.DocumentosDeTransformacao {
			transformDocs = append(transformDocs, ItemTransformDocRow{
				DueItemID:    itemID,
				NumeroDue:    n,
				ItemNumero:   item.Numero,
				Indice:       idx,
				Tipo:         dt.Tipo,
				Numero:       dt.Numero,
				DataRegistro: nullable(dt.DataRegistro),
			})
		}
		for idx, tt := range item.CalculoTributario.TratamentosTributarios {
			taxTreatments = append(taxTreatments, ItemTaxTreatmentRow{
				DueItemID:  itemID,
				NumeroDue:  n,
				ItemNumero: item.Numero,
				Indice:     idx,
				Codigo:     tt.Codigo,
				Descricao:  tt.Descricao,
				Tipo:       tt.Tipo,
				Tributo:    tt.Tributo,
			})
		}
		for idx, qc := range item.CalculoTributario.QuadroDeCalculos {
			taxBrackets = append(taxBrackets, ItemTaxBracketRow{
				DueItemID:       itemID,
				NumeroDue:       n,
				ItemNumero:      item.Numero,
				Indice:          idx,
				Tributo:         qc.Tributo,
				BaseDeCalculo:   qc.BaseDeCalculo,
				Aliquota:        qc.Aliquota,
				ValorDevido:     qc.ValorDevido,
				ValorRecolhido:  qc.ValorRecolhido,
				ValorCompensado: qc.ValorCompensado,
			})
		}
	}
	rs.add(TableItems, items, len(items))
	rs.add(TableItemFrameworks, frameworks, len(frameworks))
	rs.add(TableItemDestinations, destinations, len(destinations))
	rs.add(TableItemAdminTreatments, treatments, len(treatments))
	rs.add(TableItemAdminAgencies, agencies, len(agencies))
	rs.add(TableItemRemittanceNotes, remittances, len(remittances))
	rs.add(TableItemExportNote, exportNotes, len(exportNotes))
	rs.add(TableItemComplementary, complementary, len(complementary))
	rs.add(TableItemAttributes, attributes, len(attributes))
	rs.add(TableItemImportDocs, importDocs, len(importDocs))
	rs.add(TableItemTransformDocs, transformDocs, len(transformDocs))
	rs.add(TableItemTaxTreatments, taxTreatments, len(taxTreatments))
	rs.add(TableItemTaxBrackets, taxBrackets, len(taxBrackets))

	situations := make([]CargoSituationRow, 0, len(doc.SituacoesDaCarga))
	for _, s := range doc.SituacoesDaCarga {
		situations = append(situations, CargoSituationRow{
			NumeroDue:    n,
			Codigo:       s.Codigo,
			Descricao:    s.Descricao,
			CargaOperada: s.CargaOperada,
		})
	}
	rs.add(TableCargoSituations, situations, len(situations))

	requests := make([]RequestRow, 0, len(doc.Solicitacoes))
	for _, s := range doc.Solicitacoes {
		requests = append(requests, RequestRow{
			NumeroDue:                   n,
			TipoSolicitacao:             s.TipoSolicitacao,
			DataDaSolicitacao:           nullable(s.DataDaSolicitacao),
			UsuarioResponsavel:          s.UsuarioResponsavel,
			CodigoDoStatusDaSolicitacao: s.CodigoDoStatusDaSolicitacao,
			StatusDaSolicitacao:         s.StatusDaSolicitacao,
			DataDeApreciacao:            nullable(s.DataDeApreciacao),
			Motivo:                      s.Motivo,
		})
	}
	rs.add(TableRequests, requests, len(requests))

	comps := make([]TaxCompensationRow, 0, len(doc.DeclaracaoTributaria.Compensacoes))
	for _, c := range doc.DeclaracaoTributaria.Compensacoes {
		comps = append(comps, TaxCompensationRow{
			NumeroDue:          n,
			DataDoRegistro:     nullable(c.DataDoRegistro),
			NumeroDaDeclaracao: c.NumeroDaDeclaracao,
			ValorCompensado:    c.ValorCompensado,
		})
	}
	rs.add(TableTaxCompensations, comps, len(comps))

	colls := make([]TaxCollectionRow, 0, len(doc.DeclaracaoTributaria.Recolhimentos))
	for _, r := range doc.DeclaracaoTributaria.Recolhimentos {
		colls = append(colls, TaxCollectionRow{
			NumeroDue:               n,
			DataDoPagamento:         nullable(r.DataDoPagamento),
			DataDoRegistro:          nullable(r.DataDoRegistro),
			ValorDaMulta:            r.ValorDaMulta,
			ValorDoImpostoRecolhido: r.ValorDoImpostoRecolhido,
			ValorDoJurosMora:        r.ValorDoJurosMora,
		})
	}
	rs.add(TableTaxCollections, colls, len(colls))

	contests := make([]TaxContestationRow, 0, len(doc.DeclaracaoTributaria.Contestacoes))
	for idx, c := range doc.DeclaracaoTributaria.Contestacoes {
		contests = append(contests, TaxContestationRow{
			NumeroDue:        n,
			Indice:           idx,
			DataDoRegistro:   nullable(c.DataDoRegistro),
			Motivo:           c.Motivo,
			Status:           c.Status,
			DataDeApreciacao: nullable(c.DataDeApreciacao),
			Observacao:       c.Observacao,
		})
	}
	rs.add(TableTaxContestations, contests, len(contests))

	rs.add(TableSuspensionActs, BondedActRows(n, suspensionActs), len(suspensionActs))
	rs.add(TableExemptionActs, BondedActRows(n, exemptionActs), len(exemptionActs))

	reqs := make([]FiscalRequirementRow, 0, len(fiscalReqs))
	for _, fr := range fiscalReqs {
		reqs = append(reqs, FiscalRequirementRow{
			NumeroDue:        n,
			NumeroExigencia:  fr.Numero,
			TipoExigencia:    fr.Tipo,
			DataCriacao:      nullable(fr.DataCriacao),
			DataLimite:       nullable(fr.DataLimite),
			Status:           fr.Status,
			OrgaoResponsavel: fr.OrgaoResponsavel,
			Descricao:        fr.Descricao,
			ValorExigido:     fr.ValorExigido,
			ValorPago:        fr.ValorPago,
			Observacoes:      fr.Observacoes,
		})
	}
	rs.add(TableFiscalRequirements, reqs, len(reqs))

	return rs, nil
}

func (rs *RowSet) add(table string, rows any, n int) {
	rs.Children = append(rs.Children, Batch{Table: table, Rows: rows, Len: n})
}

func principalRow(doc *Document) PrincipalRow {
	return PrincipalRow{
		Numero:                             doc.Numero,
		ChaveDeAcesso:                      doc.ChaveDeAcesso,
		DataDeRegistro:                     nullable(doc.DataDeRegistro),
		Bloqueio:                           doc.Bloqueio,
		Canal:                              doc.Canal,
		EmbarqueEmRecintoAlfandegado:       doc.EmbarqueEmRecintoAlfandegado,
		DespachoEmRecintoAlfandegado:       doc.DespachoEmRecintoAlfandegado,
		FormaDeExportacao:                  doc.FormaDeExportacao,
		ImpedidoDeEmbarque:                 doc.ImpedidoDeEmbarque,
		InformacoesComplementares:          doc.InformacoesComplementares,
		RUC:                                doc.RUC,
		Situacao:                           doc.Situacao,
		SituacaoDoTratamentoAdministrativo: doc.SituacaoDoTratamentoAdministrativo,
		Tipo:                               doc.Tipo,
		TratamentoPrioritario:              doc.TratamentoPrioritario,
		ResponsavelPeloACD:                 doc.ResponsavelPeloACD,
		DespachoEmRecintoDomiciliar:        doc.DespachoEmRecintoDomiciliar,
		DataDeCriacao:                      nullable(doc.DataDeCriacao),
		DataDoCCE:                          nullable(doc.DataDoCCE),
		DataDoDesembaraco:                  nullable(doc.DataDoDesembaraco),
		DataDoACD:                          nullable(doc.DataDoACD),
		DataDaAverbacao:                    nullable(doc.DataDaAverbacao),
		ValorTotalMercadoria:               doc.ValorTotalMercadoria,
		InclusaoNotaFiscal:                 doc.InclusaoNotaFiscal,
		ExigenciaAtiva:                     doc.ExigenciaAtiva,
		Consorciada:                        doc.Consorciada,
		DAT:                                doc.DAT,
		OEA:                                doc.OEA,
		DeclaranteNumeroDoDocumento:        doc.Declarante.NumeroDoDocumento,
		DeclaranteTipoDoDocumento:          doc.Declarante.TipoDoDocumento,
		DeclaranteNome:                     doc.Declarante.Nome,
		DeclaranteEstrangeiro:              doc.Declarante.Estrangeiro,
		DeclaranteNacionalidadeCodigo:      doc.Declarante.Nacionalidade.Codigo,
		DeclaranteNacionalidadeNome:        doc.Declarante.Nacionalidade.Nome,
		DeclaranteNacionalidadeResumido:    doc.Declarante.Nacionalidade.NomeResumido,
		MoedaCodigo:                        doc.Moeda.Codigo,
		PaisImportadorCodigo:               doc.PaisImportador.Codigo,
		RecintoAduaneiroDeDespachoCodigo:   doc.RecintoAduaneiroDeDespacho.Codigo,
		RecintoAduaneiroDeEmbarqueCodigo:   doc.RecintoAduaneiroDeEmbarque.Codigo,
		UnidadeLocalDeDespachoCodigo:       doc.UnidadeLocalDeDespacho.Codigo,
		UnidadeLocalDeEmbarqueCodigo:       doc.UnidadeLocalDeEmbarque.Codigo,
		DeclaracaoTributariaDivergente:     doc.DeclaracaoTributaria.Divergente,
	}
}

func itemRow(n, itemID string, item *Item) ItemRow {
	return ItemRow{
		ID:                                 itemID,
		NumeroDue:                          n,
		Numero:                             item.Numero,
		QuantidadeNaUnidadeEstatistica:     item.QuantidadeNaUnidadeEstatistica,
		PesoLiquidoTotal:                   item.PesoLiquidoTotal,
		ValorDaMercadoriaNaCondicaoDeVenda: item.ValorDaMercadoriaNaCondicaoDeVenda,
		ValorDaMercadoriaNoLocalDeEmbarque: item.ValorDaMercadoriaNoLocalDeEmbarque,
		ValorDaMercadoriaNoLocalDeEmbarqueEmReais: item.ValorDaMercadoriaNoLocalDeEmbarqueEmReais,
		ValorDaMercadoriaNaCondicaoDeVendaEmReais: item.ValorDaMercadoriaNaCondicaoDeVendaEmReais,
		DataDeConversao:                   nullable(item.DataDeConversao),
		DescricaoDaMercadoria:             item.DescricaoDaMercadoria,
		UnidadeComercializada:             item.UnidadeComercializada,
		NomeImportador:                    item.NomeImportador,
		EnderecoImportador:                item.EnderecoImportador,
		ValorTotalCalculadoItem:           item.ValorTotalCalculadoItem,
		QuantidadeNaUnidadeComercializada: item.QuantidadeNaUnidadeComercializada,
		NCMCodigo:                         item.NCM.Codigo,
		NCMDescricao:                      item.NCM.Descricao,
		NCMUnidadeMedidaEstatistica:       item.NCM.UnidadeMedidaEstatistica,
		ExportadorNumeroDoDocumento:       item.Exportador.NumeroDoDocumento,
		ExportadorTipoDoDocumento:         item.Exportador.TipoDoDocumento,
		ExportadorEstrangeiro:             item.Exportador.Estrangeiro,
		ExportadorNacionalidadeCodigo:     item.Exportador.Nacionalidade.Codigo,
		ExportadorNacionalidadeNome:       item.Exportador.Nacionalidade.Nome,
		ExportadorNacionalidadeResumido:   item.Exportador.Nacionalidade.NomeResumido,
		CodigoCondicaoVenda:               item.CodigoCondicaoVenda.Codigo,
		ExportacaoTemporaria:              item.ExportacaoTemporaria.Temporaria,
	}
}

func remittanceRow(n, itemID string, itemNumero int, nr *InvoiceItem) ItemRemittanceNoteRow {
	return ItemRemittanceNoteRow{
		DueItemID:               itemID,
		NumeroDue:               n,
		ItemNumero:              itemNumero,
		NumeroDoItem:            nr.NumeroDoItem,
		ChaveDeAcesso:           nr.NotaFiscal.ChaveDeAcesso,
		CFOP:                    nr.CFOP,
		CodigoDoProduto:         nr.CodigoDoProduto,
		Descricao:               nr.Descricao,
		QuantidadeEstatistica:   nr.QuantidadeEstatistica,
		UnidadeComercial:        nr.UnidadeComercial,
		ValorTotalBruto:         nr.ValorTotalBruto,
		QuantidadeConsumida:     nr.QuantidadeConsumida,
		NCMCodigo:               nr.NCM.Codigo,
		NCMDescricao:            nr.NCM.Descricao,
		NCMUnidadeMedida:        nr.NCM.UnidadeMedidaEstatistica,
		Modelo:                  nr.NotaFiscal.Modelo,
		Serie:                   nr.NotaFiscal.Serie,
		NumeroDoDocumento:       nr.NotaFiscal.NumeroDoDocumento,
		UFDoEmissor:             nr.NotaFiscal.UFDoEmissor,
		IdentificacaoEmitente:   nr.NotaFiscal.IdentificacaoDoEmitente.Numero,
		EmitenteCNPJ:            nr.NotaFiscal.IdentificacaoDoEmitente.CNPJ,
		EmitenteCPF:             nr.NotaFiscal.IdentificacaoDoEmitente.CPF,
		Finalidade:              nr.NotaFiscal.Finalidade,
		QuantidadeDeItens:       nr.NotaFiscal.QuantidadeDeItens,
		NotaFiscalEletronica:    nr.NotaFiscal.NotaFiscalEletronica,
		ApresentadaParaDespacho: nr.ApresentadaParaDespacho,
	}
}

func exportNoteRow(n, itemID string, itemNumero int, nf *InvoiceItem) ItemExportNoteRow {
	return ItemExportNoteRow{
		DueItemID:               itemID,
		NumeroDue:               n,
		ItemNumero:              itemNumero,
		NumeroDoItem:            nf.NumeroDoItem,
		ChaveDeAcesso:           nf.NotaFiscal.ChaveDeAcesso,
		Modelo:                  nf.NotaFiscal.Modelo,
		Serie:                   nf.NotaFiscal.Serie,
		NumeroDoDocumento:       nf.NotaFiscal.NumeroDoDocumento,
		UFDoEmissor:             nf.NotaFiscal.UFDoEmissor,
		IdentificacaoEmitente:   nf.NotaFiscal.IdentificacaoDoEmitente.Numero,
		EmitenteCNPJ:            nf.NotaFiscal.IdentificacaoDoEmitente.CNPJ,
		EmitenteCPF:             nf.NotaFiscal.IdentificacaoDoEmitente.CPF,
		Finalidade:              nf.NotaFiscal.Finalidade,
		QuantidadeDeItens:       nf.NotaFiscal.QuantidadeDeItens,
		NotaFiscalEletronica:    nf.NotaFiscal.NotaFiscalEletronica,
		CFOP:                    nf.CFOP,
		CodigoDoProduto:         nf.CodigoDoProduto,
		Descricao:               nf.Descricao,
		QuantidadeEstatistica:   nf.QuantidadeEstatistica,
		UnidadeComercial:        nf.UnidadeComercial,
		ValorTotalCalculado:     nf.ValorTotalCalculado,
		NCMCodigo:               nf.NCM.Codigo,
		NCMDescricao:            nf.NCM.Descricao,
		NCMUnidadeMedida:        nf.NCM.UnidadeMedidaEstatistica,
		ApresentadaParaDespacho: nf.ApresentadaParaDespacho,
	}
}

func complementaryRow(n, itemID string, itemNumero, idx int, nc *InvoiceItem) ItemComplementaryNoteRow {
	return ItemComplementaryNoteRow{
		DueItemID:             itemID,
		NumeroDue:             n,
		ItemNumero:            itemNumero,
		Indice:                idx,
		NumeroDoItem:          nc.NumeroDoItem,
		ChaveDeAcesso:         nc.NotaFiscal.ChaveDeAcesso,
		Modelo:                nc.NotaFiscal.Modelo,
		Serie:                 nc.NotaFiscal.Serie,
		NumeroDoDocumento:     nc.NotaFiscal.NumeroDoDocumento,
		UFDoEmissor:           nc.NotaFiscal.UFDoEmissor,
		IdentificacaoEmitente: nc.NotaFiscal.IdentificacaoDoEmitente.Numero,
		CFOP:                  nc.CFOP,
		CodigoDoProduto:       nc.CodigoDoProduto,
		Descricao:             nc.Descricao,
		QuantidadeEstatistica: nc.QuantidadeEstatistica,
		UnidadeComercial:      nc.UnidadeComercial,
		ValorTotalBruto:       nc.ValorTotalBruto,
		NCMCodigo:             nc.NCM.Codigo,
	}
}

// BondedActRows maps one concessionary-act listing to its rows. The
// targeted acts refresh uses it directly, outside a full normalization.
func BondedActRows(n string, acts []BondedAct) []BondedActRow {
	rows := make([]BondedActRow, 0, len(acts))
	for _, a := range acts {
		rows = append(rows, BondedActRow{
			NumeroDue:                n,
			AtoNumero:                a.Numero,
			TipoCodigo:               a.Tipo.Codigo,
			TipoDescricao:            a.Tipo.Descricao,
			ItemNumero:               a.Item.Numero,
			ItemNCM:                  a.Item.NCM,
			BeneficiarioCNPJ:         a.Beneficiario.CNPJ,
			QuantidadeExportada:      a.QuantidadeExportada,
			ValorComCoberturaCambial: a.ValorComCoberturaCambial,
			ValorSemCoberturaCambial: a.ValorSemCoberturaCambial,
			ItemDeDueNumero:          a.ItemDeDUE.Numero,
		})
	}
	return rows
}

// nullable maps an absent upstream scalar to the column's NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
